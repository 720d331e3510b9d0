package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/server"
)

// serveFlags holds the flags of the serve command. Flags left unset keep
// the values from the configuration file.
type serveFlags struct {
	configPath     string
	adminPort      int
	host           string
	allowInjection bool
	language       string
	delegateProxy  bool
	logLevel       string
	logFormat      string
	logFile        string
	saveTo         string
	watch          bool
}

// serveOptions controls the lifetime of a running server.
type serveOptions struct {
	saveTo string
	// watchPath, when set, reloads imposters whenever the configuration changes.
	watchPath string
}

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API and every configured imposter",
	Long: `Start the admin API and one HTTP listener per configured imposter.

Proxy responses are forwarded in-process unless --delegate-proxy is set, in
which case an external transport performs them through the admin API.`,
	Example: `  # Serve a configuration file
  imposter serve --config imposters.yaml

  # Allow injected responses and record proxied traffic on exit
  imposter serve -c imposters.yaml --allow-injection --save recorded.yaml

  # Serve every file in a directory with JSON logs
  imposter serve -c ./imposters --log-format json

  # Reload imposters whenever a matching file changes
  imposter serve -c 'imposters/**/*.yaml' --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig(cmd, &serveFlagVals)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		opts := serveOptions{saveTo: serveFlagVals.saveTo}
		if serveFlagVals.watch {
			opts.watchPath = serveFlagVals.configPath
		}
		return runServe(ctx, cfg, opts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	bindServeFlags(serveCmd, &serveFlagVals)
	_ = serveCmd.MarkFlagRequired("config")
}

func bindServeFlags(cmd *cobra.Command, f *serveFlags) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to a configuration file or directory")
	cmd.Flags().IntVarP(&f.adminPort, "admin-port", "a", config.DefaultAdminPort, "Admin API port")
	cmd.Flags().StringVar(&f.host, "host", "", "Interface to bind (default all)")
	cmd.Flags().BoolVar(&f.allowInjection, "allow-injection", false, "Enable inject responses, decorate behaviors and inject predicate generators")
	cmd.Flags().StringVar(&f.language, "language", "", "Force the injection language (expr, go)")
	cmd.Flags().BoolVar(&f.delegateProxy, "delegate-proxy", false, "Delegate proxy calls to an external transport")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Also write logs to this file, rotated by size")
	cmd.Flags().StringVar(&f.saveTo, "save", "", "Write the configuration, including recorded rules, to this path on shutdown")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "Reload imposters when the configuration changes")
}

// loadServeConfig loads the configuration and applies the flags the user set.
func loadServeConfig(cmd *cobra.Command, f *serveFlags) (*config.File, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("admin-port") {
		cfg.Engine.AdminPort = f.adminPort
	}
	if flags.Changed("host") {
		cfg.Engine.Host = f.host
	}
	if flags.Changed("allow-injection") {
		cfg.Engine.Injection.Allow = f.allowInjection
	}
	if flags.Changed("language") {
		cfg.Engine.Injection.Language = f.language
	}
	if flags.Changed("delegate-proxy") {
		cfg.Engine.Proxy.Delegate = f.delegateProxy
	}
	if flags.Changed("log-level") {
		cfg.Engine.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Engine.Log.Format = f.logFormat
	}
	if flags.Changed("log-file") {
		cfg.Engine.Log.File = f.logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// runServe starts the server and blocks until ctx is done.
func runServe(ctx context.Context, cfg *config.File, opts serveOptions, out io.Writer) error {
	logger := logging.New(cfg.Engine.LoggingConfig())

	srv := server.New(cfg, server.Options{SaveTo: opts.saveTo, Logger: logger})
	if err := srv.Start(); err != nil {
		return err
	}

	printStartupMessage(out, srv)

	g, gctx := errgroup.WithContext(ctx)
	if opts.watchPath != "" {
		w := config.NewWatcher(opts.watchPath, config.DefaultDebounce, logger)
		fmt.Fprintf(out, "Watching %s for changes\n", opts.watchPath)
		g.Go(func() error { return w.Watch(gctx, srv.Reload) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	watchErr := g.Wait()

	fmt.Fprintln(out, "\nShutting down...")
	if err := errors.Join(watchErr, srv.Stop()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Fprintln(out, "Server stopped")
	return nil
}

func printStartupMessage(out io.Writer, srv *server.Server) {
	fmt.Fprintf(out, "Admin API: http://%s\n", srv.AdminAddr())
	for _, imp := range srv.Imposters() {
		fmt.Fprintf(out, "  %-12s %d stubs\n", imp.Name(), imp.Repository().Len())
	}
}
