package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-ipcbridge/v1/config"
	"github.com/mirkobrombin/go-ipcbridge/v1/handlers/upload"
	"github.com/mirkobrombin/go-ipcbridge/v1/lock"
	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/metrics"
	"github.com/mirkobrombin/go-ipcbridge/v1/pushbus"
	"github.com/mirkobrombin/go-ipcbridge/v1/registry"
	"github.com/mirkobrombin/go-ipcbridge/v1/server"
)

var (
	addr     = flag.String("addr", "", "Address to listen on (overrides IPC_LISTEN_ADDR)")
	logLevel = flag.String("log-level", "", "Log level (overrides LOG_LEVEL)")
	backend  = flag.String("pushbus", "", "Push bus backend: memory, redis, nats or kafka (overrides PUSHBUS_BACKEND)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *backend != "" {
		cfg.PushBus.Backend = *backend
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ipcbridge stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var regOpts []registry.Option
	if cfg.TraceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
		regOpts = append(regOpts, registry.WithTracing())
	}

	var (
		lockOpts []lock.Option
		srvOpts  = []server.Option{
			server.WithLogger(logger),
			server.WithHeartbeat(cfg.Heartbeat),
		}
	)
	if cfg.MetricsEnabled {
		reg := metrics.NewRegistry()
		metrics.RegisterCoreMetrics(reg)
		lockOpts = append(lockOpts, lock.WithMetrics(reg))
		srvOpts = append(srvOpts, server.WithMetrics(reg))
	}

	bus, err := pushbus.Open(ctx, cfg.PushBus, logger.With("component", "pushbus"))
	if err != nil {
		return fmt.Errorf("push bus: %w", err)
	}
	defer bus.Close()

	reg := registry.New(regOpts...)
	locks := lock.New(lockOpts...)
	registerBuiltins(reg)
	upload.Register(reg,
		upload.WithSerializer(locks),
		upload.WithEvents(bus),
		upload.WithLogger(logger.With("component", "upload")),
	)

	srv := server.New(reg, srvOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.ListenAddr) })
	g.Go(func() error { return srv.Forward(gctx, bus) })
	return g.Wait()
}

func registerBuiltins(reg *registry.Registry) {
	reg.Register("ping", func(ctx context.Context, ev *registry.Event, args registry.Args) (any, error) {
		return "pong", nil
	})
	reg.Register("channels", func(ctx context.Context, ev *registry.Event, args registry.Args) (any, error) {
		return reg.Channels(), nil
	})
}
