// Package proxy forwards requests to real systems and records what comes
// back, either in-process over HTTP or through a two-phase handshake with an
// out-of-process transport.
package proxy

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getmockd/imposter/pkg/behaviors"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/recording"
)

// Details carries transport-level facts about the inbound request that are
// not part of the protocol payload.
type Details struct {
	RemoteAddr string `json:"remoteAddress,omitempty"`
	Host       string `json:"host,omitempty"`
}

// Delegation is handed to an out-of-process transport. The transport
// performs the call to Proxy.To and posts the observed response to
// CallbackURL.
type Delegation struct {
	Proxy       *imposter.ProxyConfig `json:"proxy"`
	Request     imposter.Request      `json:"request"`
	CallbackURL string                `json:"callbackURL"`
}

// Result is a finished proxy exchange. RecordMatch stores the final
// response in the match history of the originating rule. Details is set for
// delegated exchanges and holds what Delegate was given.
type Result struct {
	Response    imposter.Response
	RecordMatch func(imposter.Response)
	Details     Details
}

type pending struct {
	cfg     *imposter.ResponseConfig
	request imposter.Request
	details Details
	started time.Time
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// Name labels the imposter in logs and metrics, e.g. "http:4545".
	Name string

	// CallbackBase is the address resolution keys are appended to.
	CallbackBase string

	Repository imposter.Repository
	Recorder   *recording.Recorder
	Pipeline   behaviors.Pipeline
	Metrics    *metrics.Metrics
}

// Coordinator correlates delegated proxy calls with their completions and
// finishes every proxy exchange: latency stamping, behaviors and recording.
type Coordinator struct {
	opts CoordinatorOptions

	mu      sync.Mutex
	nextKey uint64
	pending map[uint64]*pending
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Pipeline == nil {
		opts.Pipeline = behaviors.None{}
	}
	opts.CallbackBase = strings.TrimSuffix(opts.CallbackBase, "/")
	return &Coordinator{
		opts:    opts,
		pending: make(map[uint64]*pending),
	}
}

// Delegate stores a pending resolution for req under a fresh key and
// returns what the external transport needs to perform the call.
func (c *Coordinator) Delegate(cfg *imposter.ResponseConfig, req imposter.Request, details Details) *Delegation {
	c.mu.Lock()
	key := c.nextKey
	c.nextKey++
	c.pending[key] = &pending{cfg: cfg, request: req, details: details, started: time.Now()}
	n := len(c.pending)
	c.mu.Unlock()

	c.opts.Metrics.SetPendingProxies(c.opts.Name, n)
	return &Delegation{
		Proxy:       cfg.Proxy,
		Request:     req,
		CallbackURL: c.callbackURL(strconv.FormatUint(key, 10)),
	}
}

// Complete finishes the delegated exchange identified by key. Unknown,
// malformed and already completed keys fail with a MissingResourceError and
// leave the pending set unchanged.
func (c *Coordinator) Complete(ctx context.Context, observed imposter.Response, key string, logger *slog.Logger) (*Result, error) {
	logger = logging.OrNop(logger)

	p, ok := c.take(key)
	if !ok {
		err := &imposter.MissingResourceError{Resource: c.callbackURL(key)}
		logger.Warn("proxy completion for unknown key", "key", key)
		return nil, err
	}

	logger = logger.With("key", key, "remote_address", p.details.RemoteAddr, "host", p.details.Host)
	result, err := c.Finish(ctx, p.cfg, p.request, observed, time.Since(p.started), logger)
	if err != nil {
		return nil, err
	}
	result.Details = p.details
	return result, nil
}

// Finish stamps the round-trip latency onto observed, applies the behaviors
// of cfg for the original request, records the result and returns it.
func (c *Coordinator) Finish(ctx context.Context, cfg *imposter.ResponseConfig, req imposter.Request, observed imposter.Response, elapsed time.Duration, logger *slog.Logger) (*Result, error) {
	logger = logging.OrNop(logger)

	resp := imposter.CloneMap(observed)
	if resp == nil {
		resp = imposter.Response{}
	}
	resp[imposter.ProxyResponseTimeKey] = int(elapsed.Milliseconds())

	resp, err := c.opts.Pipeline.Apply(ctx, req, resp, cfg.Behaviors, logger)
	if err != nil {
		return nil, err
	}

	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.Record(ctx, cfg, req, resp, logger); err != nil {
			return nil, err
		}
	}

	return &Result{Response: resp, RecordMatch: c.recordMatch(cfg, req)}, nil
}

func (c *Coordinator) recordMatch(cfg *imposter.ResponseConfig, req imposter.Request) func(imposter.Response) {
	return func(resp imposter.Response) {
		if c.opts.Repository == nil {
			return
		}
		if rule := imposter.RuleOf(c.opts.Repository, cfg); rule != nil {
			rule.RecordMatch(req, resp)
		}
	}
}

func (c *Coordinator) take(key string) (*pending, bool) {
	k, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	p, ok := c.pending[k]
	if ok {
		delete(c.pending, k)
	}
	n := len(c.pending)
	c.mu.Unlock()

	if ok {
		c.opts.Metrics.SetPendingProxies(c.opts.Name, n)
	}
	return p, ok
}

// Pending returns the number of delegations awaiting completion.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Clear drops every pending delegation. Keys keep increasing afterwards.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.pending = make(map[uint64]*pending)
	c.mu.Unlock()
	c.opts.Metrics.SetPendingProxies(c.opts.Name, 0)
}

func (c *Coordinator) callbackURL(key string) string {
	return c.opts.CallbackBase + "/" + key
}
