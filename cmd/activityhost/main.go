package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nomis52/activityhost/activities"
	"github.com/nomis52/activityhost/buildinfo"
	"github.com/nomis52/activityhost/bus"
	"github.com/nomis52/activityhost/config"
	"github.com/nomis52/activityhost/host"
	"github.com/nomis52/activityhost/logging"
	"github.com/nomis52/activityhost/metrics"
	"github.com/nomis52/activityhost/server"
	"github.com/nomis52/activityhost/transport"
	"github.com/nomis52/activityhost/watchdog"
)

// unloadTimeout bounds unloading every activity on exit.
const unloadTimeout = 30 * time.Second

type Args struct {
	ConfigPath  string
	ShowVersion bool
	Validate    bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()

	if args.ShowVersion {
		showVersion()
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if args.Validate {
		fmt.Printf("Configuration validation successful: %s\n", args.ConfigPath)
		return nil
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	props := buildinfo.Get()
	logger.Info("activityhost started",
		"build_time", props.BuildTime,
		"git_commit", props.GitCommit,
		"go_version", props.GoVersion,
		"config_path", args.ConfigPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	m, err := setupMetrics(cfg.Monitoring)
	if err != nil {
		return err
	}
	hostMetrics, err := m.hostMetrics()
	if err != nil {
		return fmt.Errorf("failed to create host metrics: %w", err)
	}

	eventBus := bus.New(bus.WithLogger(logger.Logger), bus.WithMetrics(hostMetrics))
	adapter := transport.NewAdapter(transport.WithLogger(logger.Logger), transport.WithMetrics(hostMetrics))
	collector := logging.NewLogCollector()

	h := host.New(
		host.WithLogger(logger.Logger),
		host.WithMetrics(hostMetrics),
		host.WithBus(eventBus),
		host.WithTransport(adapter),
		host.WithEnvironment(cfg.EnvironmentSeed()),
		host.WithLoggerHook(logging.NewCapturingLoggerHook(collector, nil)),
		host.WithDrainTimeout(cfg.Lifecycle.DrainTimeout),
		host.WithSupervisor(func(f host.Failure) {
			logger.Error("activity failed", "activity_id", f.ActivityID, "name", f.Name, "error", f.Err)
		}),
	)
	activities.Register(h)
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), unloadTimeout)
		defer closeCancel()
		if err := h.Close(closeCtx); err != nil {
			logger.Warn("unloading activities reported errors", "error", err)
		}
		if m.push != nil {
			if err := m.push.Flush(closeCtx); err != nil {
				logger.Warn("final metrics push failed", "error", err)
			}
		}
		logger.Info("activityhost stopped")
	}()

	if err := loadActivities(ctx, h, cfg.Activities, logger.Logger); err != nil {
		return err
	}

	if !cfg.Watchdog.Disabled {
		wd, err := watchdog.New(cfg.Watchdog.Schedule, h, watchdog.WithLogger(logger.Logger))
		if err != nil {
			return fmt.Errorf("failed to create watchdog: %w", err)
		}
		wd.Start(ctx)
	}

	if m.push != nil {
		pusher, err := watchdog.NewTrigger("metrics-push", cfg.Monitoring.PushSchedule, m.push.Flush,
			watchdog.WithLogger(logger.Logger),
			watchdog.WithTimeout(metrics.DefaultTimeout),
		)
		if err != nil {
			return fmt.Errorf("failed to create metrics push trigger: %w", err)
		}
		pusher.Start(ctx)
	}

	if cfg.Bridge.Enabled() {
		stop, err := startBridge(ctx, cfg.Bridge, eventBus, logger.Logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	srvOpts := []server.Option{
		server.WithLogger(logger.Logger),
		server.WithListenAddr(cfg.Listener.Addr),
		server.WithConfig(&cfg),
	}
	if m.scrape != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(m.scrape.Handler()))
	}
	if cfg.Listener.TLS.Enabled() {
		srvOpts = append(srvOpts, server.WithTLS(cfg.Listener.TLS.Cert, cfg.Listener.TLS.Key))
	}

	endpoint := transport.NewEndpoint(adapter, transport.WithEndpointLogger(logger.Logger))
	srv, err := server.New(h, endpoint, srvOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}

func showVersion() {
	props := buildinfo.Get()
	fmt.Printf("activityhost\n")
	fmt.Printf("Built: %s\n", props.BuildTime)
	fmt.Printf("Commit: %s\n", props.GitCommit)
	fmt.Printf("Go: %s\n", props.GoVersion)
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to host config file")
	configPathShort := flag.String("c", "", "Path to host config file (shorthand)")
	showVersion := flag.Bool("version", false, "Show version information")
	versionShort := flag.Bool("v", false, "Show version information (shorthand)")
	validate := flag.Bool("validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nActivity Host - runs activities and serves their control API\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/activityhost/host.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -c host.yaml --validate\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}

	return Args{
		ConfigPath:  path,
		ShowVersion: *showVersion || *versionShort,
		Validate:    *validate,
	}
}
