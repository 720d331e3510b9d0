// Package server runs imposters as HTTP listeners and exposes the admin API
// used by operators and out-of-process proxy transports.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/getmockd/imposter/internal/matching"
	"github.com/getmockd/imposter/pkg/behaviors"
	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/predicate"
	"github.com/getmockd/imposter/pkg/proxy"
	"github.com/getmockd/imposter/pkg/recording"
	"github.com/getmockd/imposter/pkg/resolver"
)

// Deps are the engine services shared by every imposter.
type Deps struct {
	Sandbox *inject.Sandbox

	// Transport performs proxy calls in-process. Nil delegates them to an
	// external transport through the admin API.
	Transport proxy.Transport

	// CallbackBase is the admin API address, e.g. "http://localhost:2525".
	CallbackBase string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Imposter is one virtual service: its rules, state and resolver.
type Imposter struct {
	cfg         *config.ImposterConfig
	name        string
	repo        *imposter.MemoryRepository
	state       *imposter.State
	resolver    *resolver.Resolver
	coordinator *proxy.Coordinator
	metrics     *metrics.Metrics
	log         *slog.Logger

	httpServer *http.Server
}

// NewImposter wires an imposter from its configuration.
func NewImposter(cfg *config.ImposterConfig, deps Deps) *Imposter {
	name := fmt.Sprintf("%s:%d", cfg.ProtocolName(), cfg.Port)
	log := logging.ForImposter(logging.OrNop(deps.Logger), cfg.ProtocolName(), cfg.Port)

	repo := imposter.NewMemoryRepository(cfg.Stubs...)
	pipeline := behaviors.New(deps.Sandbox, deps.Metrics)
	coordinator := proxy.NewCoordinator(proxy.CoordinatorOptions{
		Name:         name,
		CallbackBase: fmt.Sprintf("%s/imposters/%d/_requests", deps.CallbackBase, cfg.Port),
		Repository:   repo,
		Recorder:     recording.NewRecorder(repo, predicate.NewGenerator(deps.Sandbox), deps.Metrics),
		Pipeline:     pipeline,
		Metrics:      deps.Metrics,
	})

	return &Imposter{
		cfg:         cfg,
		name:        name,
		repo:        repo,
		state:       imposter.NewState(),
		coordinator: coordinator,
		metrics:     deps.Metrics,
		log:         log,
		resolver: resolver.New(resolver.Config{
			Evaluator:   inject.NewEvaluator(deps.Sandbox),
			Pipeline:    pipeline,
			Coordinator: coordinator,
			Transport:   deps.Transport,
			Repository:  repo,
			Metrics:     deps.Metrics,
		}),
	}
}

// Name returns "protocol:port".
func (i *Imposter) Name() string {
	return i.name
}

// Port returns the configured port.
func (i *Imposter) Port() int {
	return i.cfg.Port
}

// Repository returns the imposter's rules.
func (i *Imposter) Repository() *imposter.MemoryRepository {
	return i.repo
}

// Coordinator returns the pending proxy resolutions of the imposter.
func (i *Imposter) Coordinator() *proxy.Coordinator {
	return i.coordinator
}

// Handle matches req against the rules and resolves the next response of
// the first matching rule. Without a match the default response is used.
func (i *Imposter) Handle(ctx context.Context, req imposter.Request, details proxy.Details) (*resolver.Resolution, error) {
	log, _ := logging.ForExchange(i.log)

	rules := i.repo.Rules()
	index, rule := matching.FirstMatch(rules, req, log)
	if rule == nil {
		if !log.Enabled(ctx, slog.LevelDebug) {
			return &resolver.Resolution{Response: i.defaultResponse()}, nil
		}
		if misses := matching.CollectNearMisses(rules, req, 1, log); len(misses) > 0 {
			log.Debug("no rule matched, using default response",
				"closest_rule", misses[0].Rule, "reason", misses[0].Reason)
		} else {
			log.Debug("no rule matched, using default response")
		}
		return &resolver.Resolution{Response: i.defaultResponse()}, nil
	}

	rc := rule.NextResponse()
	if rc == nil {
		log.Warn("matched rule has no responses", "rule", index)
		return &resolver.Resolution{Response: i.defaultResponse()}, nil
	}
	log.Debug("rule matched", "rule", index)

	res, err := i.resolver.Resolve(ctx, rc, req, log, i.state, resolver.Options{Details: details})
	if err != nil {
		return nil, err
	}
	i.recordMatch(res)
	return res, nil
}

// NearMisses lists the rules that came closest to matching req.
func (i *Imposter) NearMisses(req imposter.Request, topN int) []matching.NearMiss {
	return matching.CollectNearMisses(i.repo.Rules(), req, topN, i.log)
}

// ResolveProxy completes a delegated proxy call.
func (i *Imposter) ResolveProxy(ctx context.Context, observed imposter.Response, key string) (*resolver.Resolution, error) {
	log, _ := logging.ForExchange(i.log)

	res, err := i.resolver.ResolveProxy(ctx, observed, key, log)
	if err != nil {
		return nil, err
	}
	i.recordMatch(res)
	return res, nil
}

func (i *Imposter) recordMatch(res *resolver.Resolution) {
	if i.cfg.RecordMatches && res.RecordMatch != nil && res.Response != nil {
		res.RecordMatch(res.Response)
	}
}

func (i *Imposter) defaultResponse() imposter.Response {
	if i.cfg.DefaultResponse == nil {
		return imposter.Response{"statusCode": http.StatusOK}
	}
	return imposter.CloneMap(i.cfg.DefaultResponse)
}

// Snapshot returns the imposter's current configuration, including rules
// recorded from proxied traffic.
func (i *Imposter) Snapshot() *config.ImposterConfig {
	rules := i.repo.Rules()
	stubs := make([]*imposter.Rule, len(rules))
	for n, rule := range rules {
		stubs[n] = rule.Copy()
	}
	out := *i.cfg
	out.Stubs = stubs
	return &out
}

// ServeHTTP answers an HTTP request through Handle.
func (i *Imposter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := requestFromHTTP(r, maxBodySize)
	if err != nil {
		i.log.Warn("failed to read request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := i.Handle(r.Context(), req, proxy.Details{RemoteAddr: r.RemoteAddr, Host: r.Host})
	if err != nil {
		status := writeFailure(w, err, i.log)
		i.metrics.CountRequest(i.name, r.Method, status)
		return
	}
	if res.Proxy != nil {
		// Delegated proxies are only reachable through the admin API.
		writeError(w, http.StatusNotImplemented, "proxy_delegated",
			"proxy responses are delegated; submit requests through the admin API")
		i.metrics.CountRequest(i.name, r.Method, http.StatusNotImplemented)
		return
	}

	status := writeHTTPResponse(w, res.Response)
	i.metrics.CountRequest(i.name, r.Method, status)
	i.log.Debug("request served", "method", r.Method, "path", r.URL.Path, "status", status, "duration", time.Since(start))
}

// Start listens on the configured port and serves in the background.
func (i *Imposter) Start(host string) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(i.cfg.Port)))
	if err != nil {
		return fmt.Errorf("imposter %s: %w", i.name, err)
	}
	if i.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, i.cfg.MaxConnections)
	}
	i.Serve(ln)
	return nil
}

// Serve serves on ln in the background.
func (i *Imposter) Serve(ln net.Listener) {
	i.httpServer = &http.Server{
		Handler:           i,
		ReadHeaderTimeout: 10 * time.Second,
	}

	i.log.Info("starting imposter", "addr", ln.Addr().String(), "stubs", i.repo.Len())
	go func() {
		if err := i.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			i.log.Error("imposter server error", "error", err)
		}
	}()
}

// Stop shuts the listener down and drops pending proxy resolutions.
func (i *Imposter) Stop(ctx context.Context) error {
	i.coordinator.Clear()
	if i.httpServer == nil {
		return nil
	}
	return i.httpServer.Shutdown(ctx)
}

// DryRun resolves every configured response against a synthetic request
// flagged as a dry run. Behaviors, proxies and recording are skipped, so the
// repository and state are left untouched. Rules whose predicates reject the
// synthetic request are still resolved and logged at debug level.
func (i *Imposter) DryRun(ctx context.Context) error {
	log := i.log.With("dryRun", true)
	var errs []error

	for n, rule := range i.repo.Rules() {
		req := dryRunRequest()
		if !matching.MatchRule(rule, req, log) {
			log.Debug("dry run request does not match rule", "rule", n)
		}

		for m, rc := range rule.Copy().Responses {
			if _, err := i.resolver.Resolve(ctx, rc, req, log, imposter.NewState(), resolver.Options{}); err != nil {
				errs = append(errs, fmt.Errorf("stubs[%d].responses[%d]: %w", n, m, err))
			}
		}
	}
	return errors.Join(errs...)
}

func dryRunRequest() imposter.Request {
	return imposter.Request{
		imposter.DryRunKey: true,
		"method":           http.MethodGet,
		"path":             "/",
		"query":            map[string]interface{}{},
		"headers":          map[string]interface{}{},
		"body":             "",
	}
}
