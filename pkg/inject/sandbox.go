package inject

import (
	"context"
	"fmt"
	"go/scanner"
	"go/token"
	"log/slog"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/logging"
)

// Language selects how injected source is interpreted.
type Language string

const (
	// LanguageAuto picks go for Go source and expr otherwise.
	LanguageAuto Language = ""
	LanguageExpr Language = "expr"
	LanguageGo   Language = "go"
)

// Entry points looked up in Go source.
const (
	entryRespond  = "Respond"
	entryGenerate = "Generate"
	entryDecorate = "Decorate"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultDryRunDelay = time.Millisecond
	DefaultTimeout     = 30 * time.Second
)

// Config controls the sandbox.
type Config struct {
	// AllowInjection enables evaluation. When false every evaluation fails
	// with an InjectionError.
	AllowInjection bool `json:"allowInjection" yaml:"allowInjection"`

	// Language forces a language for all sources.
	Language Language `json:"language,omitempty" yaml:"language,omitempty" validate:"omitempty,oneof=expr go"`

	// DryRunDelay is the scheduling delay before a dry run resolves.
	DryRunDelay time.Duration `json:"dryRunDelay,omitempty" yaml:"dryRunDelay,omitempty"`

	// Timeout bounds a single evaluation, including waiting for an
	// asynchronous callback. Interpreted Go cannot be interrupted: a timed-out
	// call keeps running in the background on its own copy of state, and its
	// state changes are discarded.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Sandbox evaluates injected source against explicit bindings.
type Sandbox struct {
	cfg Config

	programMu    sync.RWMutex
	programCache map[string]*vm.Program
}

// NewSandbox creates a sandbox with the given configuration.
func NewSandbox(cfg Config) *Sandbox {
	if cfg.DryRunDelay <= 0 {
		cfg.DryRunDelay = DefaultDryRunDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Sandbox{
		cfg:          cfg,
		programCache: make(map[string]*vm.Program),
	}
}

// Config returns the effective configuration.
func (s *Sandbox) Config() Config {
	return s.cfg
}

// Allowed reports whether injection is enabled.
func (s *Sandbox) Allowed() bool {
	return s.cfg.AllowInjection
}

// refusal is returned for every evaluation while injection is disabled.
func refusal() error {
	return &imposter.InjectionError{
		Message: "inject is not allowed unless the server is started with --allow-injection",
	}
}

func (s *Sandbox) language(source string) Language {
	if s.cfg.Language != LanguageAuto {
		return s.cfg.Language
	}
	switch firstGoToken(source) {
	case token.PACKAGE, token.IMPORT, token.FUNC:
		return LanguageGo
	default:
		return LanguageExpr
	}
}

// firstGoToken returns the first token of source, skipping comments.
func firstGoToken(source string) token.Token {
	fset := token.NewFileSet()
	file := fset.AddFile("inject.go", -1, len(source))
	var sc scanner.Scanner
	sc.Init(file, []byte(source), nil, 0)
	for {
		_, tok, _ := sc.Scan()
		if tok != token.SEMICOLON {
			return tok
		}
	}
}

// run evaluates source once. entry names the function called in Go source.
func (s *Sandbox) run(ctx context.Context, source, entry string, env map[string]interface{}) (result interface{}, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if s.language(source) == LanguageGo {
		return runGo(ctx, source, entry, goEnv(env))
	}
	return s.runExpr(source, env)
}

// Predicates evaluates predicate-generator logic with {request, logger}
// bindings. The logic must return a list.
func (s *Sandbox) Predicates(ctx context.Context, source string, req imposter.Request, logger *slog.Logger) ([]interface{}, error) {
	if !s.Allowed() {
		return nil, refusal()
	}
	logger = logging.OrNop(logger)

	env := map[string]interface{}{
		"request": imposter.CloneMap(req),
		"logger":  newScriptLogger(logger),
	}
	env["config"] = map[string]interface{}{"request": env["request"], "logger": env["logger"]}

	result, err := s.run(ctx, source, entryGenerate, env)
	if err != nil {
		logger.Error("predicate generator injection failed", "source", source, "request", req, "error", err)
		return nil, &imposter.InjectionError{Source: source, Message: err.Error()}
	}

	list, ok := result.([]interface{})
	if !ok {
		return nil, &imposter.InjectionError{
			Source:  source,
			Message: fmt.Sprintf("predicate generator must return a list, got %T", result),
		}
	}
	return list, nil
}

// Decorate evaluates a decorate transform with {request, response, logger}
// bindings. A nil result keeps the response unchanged.
func (s *Sandbox) Decorate(ctx context.Context, source string, req imposter.Request, resp imposter.Response, logger *slog.Logger) (imposter.Response, error) {
	if !s.Allowed() {
		return nil, refusal()
	}
	logger = logging.OrNop(logger)

	env := map[string]interface{}{
		"request":  imposter.CloneMap(req),
		"response": imposter.CloneMap(resp),
		"logger":   newScriptLogger(logger),
	}
	env["config"] = map[string]interface{}{"request": env["request"], "response": env["response"], "logger": env["logger"]}

	result, err := s.run(ctx, source, entryDecorate, env)
	if err != nil {
		logger.Error("decorate injection failed", "source", source, "error", err)
		return nil, &imposter.InjectionError{Source: source, Message: err.Error()}
	}
	if result == nil {
		return env["response"].(imposter.Response), nil
	}

	out, ok := asResponse(result)
	if !ok {
		return nil, &imposter.InjectionError{
			Source:  source,
			Message: fmt.Sprintf("decorate must return an object, got %T", result),
		}
	}
	return out, nil
}

// asResponse accepts any string-keyed map as a response.
func asResponse(v interface{}) (imposter.Response, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[string]string:
		out := make(imposter.Response, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}
