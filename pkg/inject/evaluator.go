package inject

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/logging"
)

// Evaluator computes dynamic responses from injected logic.
type Evaluator struct {
	sandbox *Sandbox
}

// NewEvaluator creates an evaluator backed by sandbox.
func NewEvaluator(sandbox *Sandbox) *Evaluator {
	return &Evaluator{sandbox: sandbox}
}

// Evaluate runs source once against a fixed context and returns the
// computed response.
//
// The context binds request (a clone of req), state (the imposter's
// persistent state), logger, callback (single use; later calls are ignored)
// and imposterState (an empty legacy object). A non-nil return value is the
// response; otherwise the callback argument is. Go logic may call callback
// after returning, in which case Evaluate waits until the sandbox timeout.
// Go logic sees a copy of state whose changes are merged back when the
// response is ready; a timed-out call discards them.
//
// Dry-run requests skip evaluation entirely and resolve to an empty
// response after the configured scheduling delay.
func (e *Evaluator) Evaluate(ctx context.Context, req imposter.Request, source string, logger *slog.Logger, state *imposter.State) (imposter.Response, error) {
	logger = logging.OrNop(logger)

	if imposter.IsDryRun(req) {
		select {
		case <-time.After(e.sandbox.cfg.DryRunDelay):
			return imposter.Response{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !e.sandbox.Allowed() {
		return nil, refusal()
	}
	if state == nil {
		state = imposter.NewState()
	}

	done := make(chan interface{}, 1)
	var once sync.Once
	callback := func(v interface{}) interface{} {
		once.Do(func() { done <- v })
		return nil
	}

	newEnv := func(values map[string]interface{}) map[string]interface{} {
		env := map[string]interface{}{
			"request":       imposter.CloneMap(req),
			"state":         imposter.NewStateView(values),
			"logger":        newScriptLogger(logger),
			"callback":      callback,
			"imposterState": map[string]interface{}{},
		}
		env["config"] = map[string]interface{}{
			"request":  env["request"],
			"state":    env["state"],
			"logger":   env["logger"],
			"callback": callback,
		}
		return env
	}

	var (
		result interface{}
		err    error
	)
	var base, work map[string]interface{}
	detached := e.sandbox.language(source) == LanguageGo
	if detached {
		// Go logic may outlive a timeout in its own goroutine, so it works on
		// a copy that is merged back only once the call completes.
		base = state.Snapshot()
		work = imposter.CloneMap(base)
		result, err = e.sandbox.run(ctx, source, entryRespond, newEnv(work))
	} else {
		state.Do(func(values map[string]interface{}) {
			result, err = e.sandbox.run(ctx, source, entryRespond, newEnv(values))
		})
	}
	if err == nil && result == nil {
		result, err = e.awaitCallback(ctx, source, done)
	}
	if err != nil {
		return nil, e.fail(logger, source, req, err.Error())
	}
	if detached {
		state.Merge(base, work)
	}

	resp, ok := asResponse(result)
	if !ok {
		return nil, e.fail(logger, source, req, fmt.Sprintf("injection must return an object, got %T", result))
	}
	return resp, nil
}

// awaitCallback returns the callback argument. expr logic cannot call back
// after returning, so a nil result there resolves to an empty response.
func (e *Evaluator) awaitCallback(ctx context.Context, source string, done <-chan interface{}) (interface{}, error) {
	select {
	case v := <-done:
		if v == nil {
			return imposter.Response{}, nil
		}
		return v, nil
	default:
	}

	if e.sandbox.language(source) != LanguageGo {
		return imposter.Response{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.sandbox.cfg.Timeout)
	defer cancel()
	select {
	case v := <-done:
		if v == nil {
			return imposter.Response{}, nil
		}
		return v, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("callback was never called: %w", ctx.Err())
	}
}

func (e *Evaluator) fail(logger *slog.Logger, source string, req imposter.Request, message string) error {
	logger.Error("injection failed", "source", source, "request", req, "error", message)
	return &imposter.InjectionError{Source: source, Message: message}
}
