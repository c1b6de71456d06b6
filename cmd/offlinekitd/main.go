// Package main implements the entry point for the offlinekit daemon.
// offlinekit is a client-side resource cache and offline synchronization
// layer: it intercepts application requests, serves them from a versioned
// cache when the network cannot, and replays queued mutations once
// connectivity returns.
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

	"github.com/c360/offlinekit/config"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/service"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "offlinekitd"
)

type cliConfig struct {
	configPath      string
	logLevel        string
	logFormat       string
	validate        bool
	showVersion     bool
	shutdownTimeout time.Duration
}

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
	cli := parseFlags()

	if cli.showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger, err := setupLogger(cli.logLevel, cli.logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cli.validate {
		slog.Info("Configuration is valid", "config_path", cli.configPath)
		return nil
	}

	slog.Info("Starting offlinekit",
		"version", Version,
		"cache_version", cfg.Version,
		"origin", cfg.Origin,
		"config_path", cli.configPath)

	registry := metric.NewMetricsRegistry()

	svc, err := service.New(cfg,
		service.WithLogger(logger),
		service.WithMetricsRegistry(registry),
	)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Initialize(); err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			slog.Info("Metrics server listening", "address", metricsServer.Address())
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if err := svc.Stop(cli.shutdownTimeout); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}
	flag.StringVar(&cli.configPath, "config", "config.json", "Path to configuration file")
	flag.StringVar(&cli.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cli.logFormat, "log-format", "text", "Log format (text, json)")
	flag.BoolVar(&cli.validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&cli.showVersion, "version", false, "Print version and exit")
	flag.DurationVar(&cli.shutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	flag.Parse()
	return cli
}

func setupLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
