// Package main implements the entry point for LiveBridge, the command bridge
// between external controllers and a running Ableton Live set: reliable TCP
// (and optional WebSocket/NATS) request/response alongside fire-and-forget
// UDP, all funneled into one serialized executor for the non-reentrant Live
// API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/config"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/dispatch"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/gateway/tcp"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/gateway/ws"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/health"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/host"
	natsinput "github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/input/nats"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/input/udp"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/natsclient"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/service"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "livebridge"
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
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	// Flags win over file and environment.
	cfg.LogLevel = cliCfg.LogLevel
	cfg.LogFormat = cliCfg.LogFormat
	if cliCfg.ShutdownGrace > 0 {
		cfg.ShutdownGrace = config.Duration(cliCfg.ShutdownGrace)
	}

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	slog.Info("starting livebridge",
		"version", Version,
		"tcp_port", cfg.TCPPort,
		"udp_port", cfg.UDPPort,
		"metrics_port", cfg.Metrics.Port)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runBridge(ctx, cfg, logger)
}

func runBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewRegistry()
	monitor := health.NewMonitor(appName)

	// The metrics server is not lifecycle-managed: a bridge that cannot
	// expose health is considered misconfigured and refuses to start.
	metricsServer := metric.NewServer(cfg.Bind, cfg.Metrics.Port, registry, monitor)
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("observability server: %w", err)
	}
	defer func() { _ = metricsServer.Stop(2 * time.Second) }()
	logger.Info("observability server listening", "addr", metricsServer.Addr())

	manager := service.NewManager(monitor, registry,
		logger.With("component", "service-manager"))

	dispatcher := dispatch.New(dispatch.Deps{
		Invoker:         host.NewLiveSet(),
		QueueCapacity:   cfg.QueueCapacity,
		MetricsRegistry: registry,
		Logger:          logger.With("component", "dispatcher"),
	})
	manager.Register(dispatcher)

	manager.Register(tcp.NewServer(tcp.Deps{
		Submitter:       dispatcher,
		Bind:            cfg.Bind,
		Port:            cfg.TCPPort,
		ReplyTimeout:    cfg.ReplyTimeout.Std(),
		MetricsRegistry: registry,
		Logger:          logger.With("component", "tcp-server"),
	}))

	udpInput := udp.NewInput(udp.Deps{
		Submitter:       dispatcher,
		Bind:            cfg.Bind,
		Port:            cfg.UDPPort,
		StagingCapacity: cfg.UDPStagingSize,
		MetricsRegistry: registry,
		Logger:          logger.With("component", "udp-input"),
	})
	if udpInput == nil {
		return fmt.Errorf("udp input construction failed")
	}
	manager.Register(udpInput)

	if cfg.WS.Enabled {
		manager.Register(ws.NewServer(ws.Deps{
			Submitter:       dispatcher,
			Bind:            cfg.Bind,
			Port:            cfg.WS.Port,
			ReplyTimeout:    cfg.ReplyTimeout.Std(),
			MetricsRegistry: registry,
			Logger:          logger.With("component", "ws-server"),
		}))
	}

	var broker *natsclient.Client
	if cfg.NATS.Enabled {
		broker = natsclient.New(cfg.NATS.URL, appName, logger)
		if err := broker.Connect(ctx); err != nil {
			return fmt.Errorf("nats connection: %w", err)
		}
		defer func() { _ = broker.Close() }()

		manager.Register(natsinput.NewIngress(natsinput.Deps{
			Client:          broker,
			Dispatcher:      dispatcher,
			SubjectPrefix:   cfg.NATS.SubjectPrefix,
			ReplyTimeout:    cfg.ReplyTimeout.Std(),
			MetricsRegistry: registry,
			Logger:          logger.With("component", "nats-ingress"),
		}))
	}

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	logger.Info("livebridge running")

	healthTicker := time.NewTicker(10 * time.Second)
	defer healthTicker.Stop()

	for {
		select {
		case <-healthTicker.C:
			manager.RefreshHealth()
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			if err := manager.StopAll(cfg.ShutdownGrace.Std()); err != nil {
				logger.Warn("shutdown incomplete", "error", err)
				return err
			}
			logger.Info("livebridge stopped")
			return nil
		}
	}
}
