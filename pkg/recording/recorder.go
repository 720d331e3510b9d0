package recording

import (
	"context"
	"log/slog"
	"sync"

	"github.com/getmockd/imposter/internal/matching"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/predicate"
)

// Recorder turns proxied exchanges into rules so later requests can be
// served without contacting the real system.
type Recorder struct {
	// mu makes locating the origin rule and mutating the repository one step.
	mu sync.Mutex

	repo      imposter.Repository
	generator *predicate.Generator
	metrics   *metrics.Metrics
}

// NewRecorder creates a recorder writing to repo. m may be nil.
func NewRecorder(repo imposter.Repository, generator *predicate.Generator, m *metrics.Metrics) *Recorder {
	return &Recorder{repo: repo, generator: generator, metrics: m}
}

// Record stores observed as a replayable response for req according to the
// recording mode of cfg.
//
// proxyOnce inserts a new rule right after the rule holding cfg.
// proxyAlways appends to the first later rule with identical predicates and
// inserts a new rule only when none exists. proxyTransparent records nothing.
func (r *Recorder) Record(ctx context.Context, cfg *imposter.ResponseConfig, req imposter.Request, observed imposter.Response, logger *slog.Logger) error {
	if cfg == nil || cfg.Proxy == nil {
		return &imposter.ValidationError{Field: "proxy", Message: "recording requires a proxy response"}
	}
	logger = logging.OrNop(logger)
	mode := cfg.Proxy.RecordingMode()

	if mode == imposter.ProxyTransparent {
		r.metrics.CountRecording(string(mode), metrics.ActionSkipped)
		return nil
	}

	predicates, err := r.generator.Generate(ctx, req, cfg.Proxy.PredicateGenerators, logger)
	if err != nil {
		return err
	}
	response := newStubResponse(cfg.Proxy, observed)

	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.repo.IndexOf(cfg)
	if index < 0 {
		logger.Warn("proxy response not found in repository, recording at front", "to", cfg.Proxy.To)
	}

	if mode == imposter.ProxyAlways {
		if match := r.findIdentical(index+1, predicates); match >= 0 {
			if err := r.repo.AddResponse(match, response); err != nil {
				return err
			}
			logger.Debug("appended recorded response", "rule", match, "to", cfg.Proxy.To)
			r.metrics.CountRecording(string(mode), metrics.ActionAppended)
			return nil
		}
	}

	if err := r.repo.InsertAfter(index, imposter.NewRule(predicates, response)); err != nil {
		return err
	}
	logger.Debug("recorded new rule", "rule", index+1, "predicates", len(predicates), "to", cfg.Proxy.To)
	r.metrics.CountRecording(string(mode), metrics.ActionInserted)
	return nil
}

// findIdentical returns the index of the first rule at or after start whose
// predicates equal predicates, or -1.
func (r *Recorder) findIdentical(start int, predicates []imposter.Predicate) int {
	rules := r.repo.Rules()
	for i := start; i < len(rules); i++ {
		if matching.DeepEqual(rules[i].Predicates, predicates) {
			return i
		}
	}
	return -1
}

// newStubResponse wraps the observed response in a static config and
// attaches the behaviors the proxy asks for on replay.
func newStubResponse(proxy *imposter.ProxyConfig, observed imposter.Response) *imposter.ResponseConfig {
	payload := imposter.CloneMap(observed)
	latency := millis(payload[imposter.ProxyResponseTimeKey])
	delete(payload, imposter.ProxyResponseTimeKey)

	var behaviors []imposter.Behavior
	if proxy.AddWaitBehavior && latency > 0 {
		behaviors = append(behaviors, imposter.Behavior{Wait: latency})
	}
	if proxy.AddDecorateBehavior != "" {
		behaviors = append(behaviors, imposter.Behavior{Decorate: proxy.AddDecorateBehavior})
	}
	return imposter.NewStatic(payload, behaviors...)
}

func millis(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
