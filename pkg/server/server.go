package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/proxy"
)

// shutdownTimeout bounds Stop.
const shutdownTimeout = 5 * time.Second

// Options configure a Server.
type Options struct {
	// SaveTo writes the configuration, including recorded rules, to this
	// path on Stop. Empty disables saving.
	SaveTo string

	Logger *slog.Logger

	// Registry receives the engine metrics. Nil creates a fresh registry
	// with the process collectors.
	Registry *prometheus.Registry
}

// Server runs the admin API and every configured imposter.
type Server struct {
	cfg       *config.File
	opts      Options
	log       *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	deps      Deps
	startTime time.Time

	impMu     sync.RWMutex
	imposters map[int]*Imposter

	mu         sync.Mutex
	running    bool
	adminAddr  string
	httpServer *http.Server
}

// New builds a server and its imposters from a validated configuration.
func New(cfg *config.File, opts Options) *Server {
	reg := opts.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	s := &Server{
		cfg:       cfg,
		opts:      opts,
		log:       logging.OrNop(opts.Logger),
		registry:  reg,
		metrics:   metrics.New(reg),
		imposters: make(map[int]*Imposter, len(cfg.Imposters)),
	}

	deps := Deps{
		Sandbox:      inject.NewSandbox(cfg.Engine.SandboxConfig()),
		CallbackBase: s.callbackBase(),
		Metrics:      s.metrics,
		Logger:       s.log,
	}
	if !cfg.Engine.Proxy.Delegate {
		deps.Transport = cfg.Engine.Transport(proxy.NewHTTPTransport(s.metrics))
	}

	s.deps = deps

	for _, ic := range cfg.Imposters {
		s.imposters[ic.Port] = NewImposter(ic, deps)
	}
	return s
}

func (s *Server) callbackBase() string {
	host := s.cfg.Engine.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, fmt.Sprint(s.cfg.Engine.AdminPortOrDefault()))
}

// Imposter returns the imposter on port, or nil.
func (s *Server) Imposter(port int) *Imposter {
	s.impMu.RLock()
	defer s.impMu.RUnlock()
	return s.imposters[port]
}

// Imposters returns all imposters ordered by port.
func (s *Server) Imposters() []*Imposter {
	s.impMu.RLock()
	defer s.impMu.RUnlock()
	out := make([]*Imposter, 0, len(s.imposters))
	for _, imp := range s.imposters {
		out = append(out, imp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Port() < out[b].Port() })
	return out
}

// Metrics returns the engine metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Uptime returns the seconds since Start.
func (s *Server) Uptime() int {
	if s.startTime.IsZero() {
		return 0
	}
	return int(time.Since(s.startTime).Seconds())
}

// AdminAddr returns the address the admin API listens on once started.
func (s *Server) AdminAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminAddr
}

// Start binds the admin API and every imposter. On failure everything
// already started is stopped again.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	host := s.cfg.Engine.Host
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(s.cfg.Engine.AdminPortOrDefault())))
	if err != nil {
		return fmt.Errorf("admin API: %w", err)
	}
	s.serveAdmin(ln)

	started := make([]*Imposter, 0, len(s.imposters))
	for _, imp := range s.Imposters() {
		if err := imp.Start(host); err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = stopAll(ctx, started)
			_ = s.httpServer.Shutdown(ctx)
			return err
		}
		started = append(started, imp)
	}

	s.running = true
	s.startTime = time.Now()
	s.log.Info("server started", "admin", s.adminAddr, "imposters", len(started))
	return nil
}

func (s *Server) serveAdmin(ln net.Listener) {
	s.adminAddr = ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin server error", "error", err)
		}
	}()
}

// Stop shuts down the imposters and the admin API, then saves the
// configuration when SaveTo is set.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if err := stopAll(ctx, s.Imposters()); err != nil {
		errs = append(errs, err)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
	}

	if s.opts.SaveTo != "" {
		if err := config.SaveToFile(s.opts.SaveTo, s.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("save config: %w", err))
		} else {
			s.log.Info("configuration saved", "path", s.opts.SaveTo)
		}
	}

	s.running = false
	return errors.Join(errs...)
}

// Snapshot returns the configuration with every imposter's current rules.
func (s *Server) Snapshot() *config.File {
	out := *s.cfg
	out.Imposters = make([]*config.ImposterConfig, 0, len(s.imposters))
	for _, imp := range s.Imposters() {
		out.Imposters = append(out.Imposters, imp.Snapshot())
	}
	return &out
}

// DryRun dry-runs every imposter. See Imposter.DryRun.
func (s *Server) DryRun(ctx context.Context) error {
	var errs []error
	for _, imp := range s.Imposters() {
		if err := imp.DryRun(ctx); err != nil {
			errs = append(errs, fmt.Errorf("imposter %s: %w", imp.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Reload replaces every imposter with the imposters of cfg. Engine settings
// are kept and the admin API stays up. Rules recorded by the replaced
// imposters are discarded.
func (s *Server) Reload(cfg *config.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := *s.cfg
	merged.Imposters = cfg.Imposters
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	next := make(map[int]*Imposter, len(cfg.Imposters))
	for _, ic := range cfg.Imposters {
		next[ic.Port] = NewImposter(ic, s.deps)
	}

	var errs []error
	if s.running {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := stopAll(ctx, s.Imposters()); err != nil {
			errs = append(errs, err)
		}
	}

	s.impMu.Lock()
	s.imposters = next
	s.impMu.Unlock()
	s.cfg = &merged

	if s.running {
		for _, imp := range s.Imposters() {
			if err := imp.Start(merged.Engine.Host); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.log.Info("configuration reloaded", "imposters", len(next))
	return errors.Join(errs...)
}

// stopAll stops imposters concurrently.
func stopAll(ctx context.Context, imposters []*Imposter) error {
	var g errgroup.Group
	for _, imp := range imposters {
		g.Go(func() error {
			if err := imp.Stop(ctx); err != nil {
				return fmt.Errorf("imposter %s shutdown: %w", imp.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
