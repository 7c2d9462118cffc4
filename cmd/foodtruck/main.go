// Package main implements the entry point for the foodtruck runtime.
// It wires the component lifecycle manager, event bus, and diagnostics
// sink together and drives them with the cooperative tick loop, using a
// pair of demo subsystems (clock and economy) to exercise the scaffold.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aaronleebrooks/foodtruck/config"
	"github.com/aaronleebrooks/foodtruck/diag"
	"github.com/aaronleebrooks/foodtruck/event"
	"github.com/aaronleebrooks/foodtruck/lifecycle"
	"github.com/aaronleebrooks/foodtruck/metric"
	"github.com/aaronleebrooks/foodtruck/pkg/retry"
	"github.com/aaronleebrooks/foodtruck/sched"
)

const (
	Version = "0.1.0"
	appName = "foodtruck"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("Starting foodtruck runtime",
		"version", Version,
		"tick_interval", time.Duration(cfg.TickInterval),
		"config_path", *configPath)

	ctx := context.Background()

	nc, err := connectNATS(ctx, cfg.NATSURL)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Close()
	}

	registry := metric.NewRegistry()
	sink := diag.New(
		diag.WithLogger(logger),
		diag.WithNATS(nc),
	)

	bus := event.NewBus(
		event.WithSink(sink),
		event.WithMetrics(registry.Core()),
		event.WithHistory(cfg.EventHistoryCapacity),
		event.WithDebug(cfg.Debug),
	)

	manager := lifecycle.NewManager(
		lifecycle.WithBus(bus),
		lifecycle.WithSink(sink),
		lifecycle.WithMetrics(registry.Core()),
		lifecycle.WithWaitBudget(time.Duration(cfg.DependencyWaitBudget)),
		lifecycle.WithErrorRingCapacity(cfg.ErrorRingCapacity),
		lifecycle.WithSlowOpThreshold(time.Duration(cfg.SlowOpThreshold)),
		lifecycle.WithMemDeltaThreshold(cfg.MemDeltaThresholdBytes),
		lifecycle.WithOperationWindow(cfg.OperationWindowSize),
	)

	clock, err := registerSubsystems(ctx, manager, bus)
	if err != nil {
		return err
	}

	loop := sched.New(bus, manager,
		sched.WithInterval(time.Duration(cfg.TickInterval)),
		sched.WithLogger(logger),
	)
	loop.OnTick(func(context.Context, uint64) {
		clock.Advance()
	})

	var metricsServer *metric.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metric.NewServer(cfg.MetricsAddr, registry)
		go func() {
			if serveErr := metricsServer.Start(); serveErr != nil {
				slog.Error("metrics server failed", "error", serveErr)
			}
		}()
	}

	return runWithSignalHandling(ctx, loop, manager, metricsServer)
}

// setupLogger builds the process-wide structured logger.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig loads the config file, falling back to defaults when no path
// is given.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// connectNATS dials the diagnostics transport with backoff. A missing URL
// disables NATS publication rather than failing startup.
func connectNATS(ctx context.Context, url string) (*nats.Conn, error) {
	if url == "" {
		slog.Info("NATS disabled, diagnostics stay local")
		return nil, nil
	}

	nc, err := retry.DoWithResult(ctx, retry.Quick(), func() (*nats.Conn, error) {
		return nats.Connect(url, nats.Name(appName))
	})
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	slog.Info("Connected to NATS", "url", url)
	return nc, nil
}

// registerSubsystems wires the demo game subsystems into the manager and
// starts their initialization. Economy depends on clock, so it holds in
// INITIALIZING until the clock reaches READY.
func registerSubsystems(ctx context.Context, manager *lifecycle.Manager, bus *event.Bus) (*clockSystem, error) {
	clock := newClockSystem(bus)
	economy := newEconomySystem(manager, bus)

	if err := manager.Register(lifecycle.Registration{
		Name:  "clock",
		Hooks: clock,
	}); err != nil {
		return nil, fmt.Errorf("register clock: %w", err)
	}

	if err := manager.Register(lifecycle.Registration{
		Name:         "economy",
		Hooks:        economy,
		Dependencies: []string{"clock"},
		Retry:        &retry.Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2.0},
	}); err != nil {
		return nil, fmt.Errorf("register economy: %w", err)
	}

	// Initialize the dependent first to demonstrate cross-tick resolution.
	if err := manager.Initialize(ctx, "economy"); err != nil {
		return nil, fmt.Errorf("initialize economy: %w", err)
	}
	if err := manager.Initialize(ctx, "clock"); err != nil {
		return nil, fmt.Errorf("initialize clock: %w", err)
	}
	return clock, nil
}

// runWithSignalHandling drives the tick loop until an interrupt arrives,
// then shuts everything down in reverse registration order.
func runWithSignalHandling(
	ctx context.Context,
	loop *sched.Loop,
	manager *lifecycle.Manager,
	metricsServer *metric.Server,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("foodtruck runtime started", "components", manager.Components())

	loop.Run(signalCtx)

	slog.Info("Received shutdown signal")
	manager.ShutdownAll()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Warn("metrics server stop", "error", err)
		}
	}

	slog.Info("foodtruck shutdown complete", "ticks", loop.Tick())
	return nil
}
