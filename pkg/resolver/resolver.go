// Package resolver turns a matched response configuration into a concrete
// response: a copy of a static payload, the result of injected logic, or a
// proxied and recorded exchange.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getmockd/imposter/pkg/behaviors"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/proxy"
)

// ErrNoCoordinator is returned when a proxy response is resolved by a
// resolver built without a coordinator.
var ErrNoCoordinator = errors.New("resolver has no proxy coordinator")

// Resolution is the outcome of a resolve call. Exactly one of Response and
// Proxy is set: Proxy means the caller must perform the call and complete it
// with ResolveProxy.
type Resolution struct {
	Response imposter.Response
	Proxy    *proxy.Delegation

	// RecordMatch stores the final response in the match history of the
	// rule that produced it. Nil for delegations.
	RecordMatch func(imposter.Response)
}

// Options are per-call inputs from the transport layer.
type Options struct {
	Details proxy.Details
}

// Config wires a Resolver.
type Config struct {
	Evaluator   *inject.Evaluator
	Pipeline    behaviors.Pipeline
	Coordinator *proxy.Coordinator

	// Transport performs proxy calls in-process. When nil, proxy responses
	// are delegated through the coordinator.
	Transport proxy.Transport

	// Repository locates the rule of a response for match recording.
	Repository imposter.Repository

	Metrics *metrics.Metrics
}

// Resolver resolves response configurations for one imposter.
type Resolver struct {
	cfg Config
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	if cfg.Pipeline == nil {
		cfg.Pipeline = behaviors.None{}
	}
	return &Resolver{cfg: cfg}
}

// Resolve produces the response for rc. The request is copied before
// dispatch so injected logic cannot change the caller's value. Behaviors
// run exactly once: here for static and dynamic responses, and before
// recording for proxy responses.
func (r *Resolver) Resolve(ctx context.Context, rc *imposter.ResponseConfig, req imposter.Request, logger *slog.Logger, state *imposter.State, opts Options) (*Resolution, error) {
	logger = logging.OrNop(logger)
	start := time.Now()

	kind, err := rc.Type()
	if err != nil {
		r.cfg.Metrics.ObserveResolution("invalid", err, time.Since(start))
		return nil, err
	}

	res, err := r.resolve(ctx, kind, rc, imposter.CloneMap(req), logger, state, opts)
	r.cfg.Metrics.ObserveResolution(string(kind), err, time.Since(start))
	if err != nil {
		logger.Debug("resolution failed", "type", kind, "error", err)
		return nil, err
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, kind imposter.ResponseType, rc *imposter.ResponseConfig, req imposter.Request, logger *slog.Logger, state *imposter.State, opts Options) (*Resolution, error) {
	var (
		resp imposter.Response
		err  error
	)

	switch kind {
	case imposter.ResponseStatic:
		resp = imposter.CloneMap(rc.Is)

	case imposter.ResponseDynamic:
		if r.cfg.Evaluator == nil {
			return nil, &imposter.InjectionError{Source: rc.Inject, Message: "no evaluator configured"}
		}
		resp, err = r.cfg.Evaluator.Evaluate(ctx, req, rc.Inject, logger, state)
		r.cfg.Metrics.CountInjection("response", err)
		if err != nil {
			return nil, err
		}

	case imposter.ResponseProxy:
		return r.resolveProxyConfig(ctx, rc, req, logger, opts)
	}

	resp, err = r.cfg.Pipeline.Apply(ctx, req, resp, rc.Behaviors, logger)
	if err != nil {
		return nil, err
	}
	return &Resolution{Response: resp, RecordMatch: r.recordMatch(rc, req)}, nil
}

// resolveProxyConfig forwards in-process when a transport is configured and
// delegates otherwise. Dry runs never leave the process and never record.
func (r *Resolver) resolveProxyConfig(ctx context.Context, rc *imposter.ResponseConfig, req imposter.Request, logger *slog.Logger, opts Options) (*Resolution, error) {
	if imposter.IsDryRun(req) {
		return &Resolution{Response: imposter.Response{}}, nil
	}
	if r.cfg.Coordinator == nil {
		return nil, ErrNoCoordinator
	}

	if r.cfg.Transport == nil {
		d := r.cfg.Coordinator.Delegate(rc, req, opts.Details)
		logger.Debug("delegated proxy call", "to", rc.Proxy.To, "callback", d.CallbackURL)
		return &Resolution{Proxy: d}, nil
	}

	start := time.Now()
	observed, err := r.cfg.Transport.Forward(ctx, rc.Proxy, req, opts.Details)
	if err != nil {
		return nil, err
	}
	result, err := r.cfg.Coordinator.Finish(ctx, rc, req, observed, time.Since(start), logger)
	if err != nil {
		return nil, err
	}
	return &Resolution{Response: result.Response, RecordMatch: result.RecordMatch}, nil
}

// ResolveProxy completes a delegated proxy call with the response the
// external transport observed.
func (r *Resolver) ResolveProxy(ctx context.Context, observed imposter.Response, key string, logger *slog.Logger) (*Resolution, error) {
	if r.cfg.Coordinator == nil {
		return nil, ErrNoCoordinator
	}
	start := time.Now()

	result, err := r.cfg.Coordinator.Complete(ctx, observed, key, logger)
	r.cfg.Metrics.ObserveResolution(string(imposter.ResponseProxy), err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return &Resolution{Response: result.Response, RecordMatch: result.RecordMatch}, nil
}

func (r *Resolver) recordMatch(rc *imposter.ResponseConfig, req imposter.Request) func(imposter.Response) {
	return func(resp imposter.Response) {
		if r.cfg.Repository == nil {
			return
		}
		if rule := imposter.RuleOf(r.cfg.Repository, rc); rule != nil {
			rule.RecordMatch(req, resp)
		}
	}
}
