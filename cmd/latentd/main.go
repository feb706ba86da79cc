// Latentd is the latent-space experiment daemon.
//
// It keeps experiments (a sequence registry, a query pool and a Bayesian
// optimisation setup) live in memory, keeps their coordinates consistent with
// the embedding model selected for each experiment, persists snapshots, and
// serves everything over an HTTP/SSE API.
//
// Configuration is loaded from ~/.config/latentd/config.yaml (or the file
// given with -config) and LATENTD_ environment variables. See internal/config.
//
// Usage:
//
//	# Start the daemon with defaults
//	latentd
//
//	# Point it at another model service
//	LATENTD_BACKEND_BASE_URL=http://gpu-box:18042/api latentd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/apiclient"
	"github.com/fyrsmithlabs/latentd/internal/config"
	"github.com/fyrsmithlabs/latentd/internal/embeddings"
	"github.com/fyrsmithlabs/latentd/internal/experiment"
	latenthttp "github.com/fyrsmithlabs/latentd/internal/http"
	"github.com/fyrsmithlabs/latentd/internal/logging"
	"github.com/fyrsmithlabs/latentd/internal/mixture"
	"github.com/fyrsmithlabs/latentd/internal/notify"
	"github.com/fyrsmithlabs/latentd/internal/optimizer"
	"github.com/fyrsmithlabs/latentd/internal/reconcile"
	"github.com/fyrsmithlabs/latentd/internal/telemetry"
	"github.com/fyrsmithlabs/latentd/internal/workspace"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/latentd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  latentd [-config path]   Start the latentd daemon\n")
			fmt.Fprintf(os.Stderr, "  latentd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("latentd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts latentd and blocks until ctx is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Creates the backend clients and the reconciler
//  4. Opens the experiment store and event publishers
//  5. Wires the workspace manager into the HTTP server
//  6. Serves until ctx is cancelled, then shuts down in reverse order
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	if health := tel.Health(); health.Degraded {
		zl.Warn("Telemetry degraded", zap.String("reason", health.Reason))
	}
	if err := config.EnsureConfigDir(); err != nil {
		zl.Warn("Could not create config directory", zap.Error(err))
	}
	if w, err := watchConfig(configPath, logger); err != nil {
		zl.Warn("Config reload disabled", zap.Error(err))
	} else {
		defer w.Close()
		go w.Run(ctx)
	}

	logger.Info(ctx, "Starting latentd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("storage", cfg.Storage.Driver),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "Dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.String("storage_path", cfg.Storage.Path))

	manager, err := workspace.NewManager(deps.store, workspace.Deps{
		Embedder:     deps.embedder,
		Optimizer:    deps.optimizer,
		Mixtures:     deps.mixtures,
		Reconciler:   deps.reconciler,
		Publisher:    deps.publisher,
		Logger:       zl,
		Optimization: optimizationDefaults(cfg.Optimization),
	})
	if err != nil {
		return fmt.Errorf("failed to create workspace manager: %w", err)
	}

	srv, err := latenthttp.NewServer(latenthttp.Deps{
		Manager:  manager,
		Broker:   deps.broker,
		Models:   deps.embedder,
		Mixtures: deps.mixtures,
	}, zl, &latenthttp.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Heartbeat: cfg.Server.Heartbeat.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	registry := newMetricsRegistry(manager, deps.broker)
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
		if err != nil {
			err = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	// Stop taking requests before the workspaces go away.
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		zl.Warn("HTTP shutdown failed", zap.Error(serr))
	}
	if serr := manager.Shutdown(shutdownCtx); serr != nil {
		zl.Warn("Workspace shutdown failed", zap.Error(serr))
	}
	return err
}

// initLogger builds the structured logger from the observability settings.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, err
	}
	logCfg.Fields["version"] = version
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

// watchConfig applies log level changes from the config file without a
// restart. Other settings need one.
func watchConfig(path string, logger *logging.Logger) (*config.Watcher, error) {
	zl := logger.Underlying()
	return config.NewWatcher(path, func(cfg *config.Config) {
		level, err := logging.LevelFromString(cfg.Observability.LogLevel)
		if err != nil {
			zl.Warn("Ignoring invalid log level", zap.String("level", cfg.Observability.LogLevel))
			return
		}
		if level != logger.Level() {
			logger.SetLevel(level)
			zl.Info("Log level changed", zap.String("level", logging.LevelName(level)))
		}
	}, func(err error) {
		zl.Warn("Config reload failed", zap.Error(err))
	})
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	embedder   *embeddings.Client
	optimizer  *optimizer.Client
	mixtures   *mixture.Client
	reconciler *reconcile.Reconciler
	store      *experiment.Service
	broker     *notify.Broker
	publisher  notify.Publisher
	natsConn   *nats.Conn
	logger     *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.broker != nil {
		d.broker.Close()
	}
	if d.natsConn != nil {
		if err := d.natsConn.Drain(); err != nil {
			d.natsConn.Close()
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("Closing experiment store failed", zap.Error(err))
		}
	}
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Creates the rate-limited backend transport and its service clients
//  2. Opens the configured experiment store
//  3. Creates the in-process event broker and, if enabled, connects to NATS
func initDependencies(cfg *config.Config, logger *zap.Logger) (_ *dependencies, err error) {
	deps := &dependencies{logger: logger}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	api, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout.Duration(),
		Rate:    cfg.Backend.Rate,
		Burst:   cfg.Backend.Burst,
	}, apiclient.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	deps.embedder = embeddings.NewClient(api, logger)
	deps.optimizer = optimizer.NewClient(api, logger)
	deps.mixtures = mixture.NewClient(api, logger)

	deps.reconciler, err = reconcile.New(deps.embedder, reconcile.Config{
		BatchSize:   cfg.Reconcile.BatchSize,
		Concurrency: cfg.Reconcile.Concurrency,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	store, err := experiment.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open experiment store: %w", err)
	}
	deps.store, err = experiment.NewService(store, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create experiment service: %w", err)
	}

	logger.Info("Experiment store opened",
		zap.String("driver", cfg.Storage.Driver),
		zap.String("path", cfg.Storage.Path))

	deps.broker = notify.NewBroker(logger)
	deps.publisher = deps.broker

	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		deps.natsConn = nc

		pub, err := notify.NewNATSPublisher(nc, cfg.NATS.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		deps.publisher = notify.Multi{deps.broker, pub}
	}

	return deps, nil
}

// connectNATS connects to the event bus. The connection keeps retrying in
// the background when the server is not up yet.
func connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("latentd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("Connected to NATS",
		zap.String("url", cfg.URL),
		zap.String("prefix", cfg.Prefix),
		logging.Secret("token", cfg.Token))
	return nc, nil
}

// optimizationDefaults converts the configured defaults for new experiments.
func optimizationDefaults(c config.OptimizationConfig) optimizer.Config {
	return optimizer.Config{
		Method: c.Method,
		Budget: c.Budget,
		Bounds: optimizer.Bounds{
			XMin:       -c.Bound,
			XMax:       c.Bound,
			YMin:       -c.Bound,
			YMax:       c.Bound,
			Resolution: c.Step,
		},
	}
}

// newMetricsRegistry collects process metrics plus live workspace gauges
// for the /metrics endpoint.
func newMetricsRegistry(manager *workspace.Manager, broker *notify.Broker) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "latentd_open_experiments",
			Help: "Number of experiments loaded in memory.",
		}, func() float64 {
			return float64(len(manager.Open()))
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "latentd_event_subscribers",
			Help: "Number of live event stream subscribers.",
		}, func() float64 {
			return float64(broker.Subscribers())
		}),
	)
	return reg
}
