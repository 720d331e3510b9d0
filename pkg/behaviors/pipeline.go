// Package behaviors post-processes resolved responses.
package behaviors

import (
	"context"
	"log/slog"
	"time"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/metrics"
)

// Pipeline transforms a resolved response according to behavior
// descriptors. The engine treats it as opaque.
type Pipeline interface {
	Apply(ctx context.Context, req imposter.Request, resp imposter.Response, behaviors []imposter.Behavior, logger *slog.Logger) (imposter.Response, error)
}

// Default applies wait and decorate behaviors in order.
type Default struct {
	sandbox *inject.Sandbox
	metrics *metrics.Metrics
}

// New creates the default pipeline. The sandbox evaluates decorate
// behaviors; m may be nil.
func New(sandbox *inject.Sandbox, m *metrics.Metrics) *Default {
	return &Default{sandbox: sandbox, metrics: m}
}

// Apply runs each behavior against resp. Dry-run requests skip every
// behavior so validation never sleeps or runs decorate logic.
func (d *Default) Apply(ctx context.Context, req imposter.Request, resp imposter.Response, behaviors []imposter.Behavior, logger *slog.Logger) (imposter.Response, error) {
	if len(behaviors) == 0 || imposter.IsDryRun(req) {
		return resp, nil
	}
	logger = logging.OrNop(logger)

	for _, b := range behaviors {
		if b.Wait > 0 {
			if err := wait(ctx, time.Duration(b.Wait)*time.Millisecond); err != nil {
				return nil, err
			}
		}
		if b.Decorate != "" {
			if d.sandbox == nil {
				return nil, &imposter.InjectionError{Source: b.Decorate, Message: "no sandbox configured for decorate"}
			}
			out, err := d.sandbox.Decorate(ctx, b.Decorate, req, resp, logger)
			d.metrics.CountInjection("decorate", err)
			if err != nil {
				return nil, err
			}
			resp = out
		}
	}
	return resp, nil
}

func wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// None returns responses unchanged.
type None struct{}

// Apply implements Pipeline.
func (None) Apply(_ context.Context, _ imposter.Request, resp imposter.Response, _ []imposter.Behavior, _ *slog.Logger) (imposter.Response, error) {
	return resp, nil
}
