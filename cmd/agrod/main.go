package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/tgxzd/agrox/internal/api"
	"github.com/tgxzd/agrox/internal/codec"
	"github.com/tgxzd/agrox/internal/config"
	"github.com/tgxzd/agrox/internal/device"
	"github.com/tgxzd/agrox/internal/events"
	"github.com/tgxzd/agrox/internal/ledger"
	"github.com/tgxzd/agrox/internal/orchestrator"
	"github.com/tgxzd/agrox/internal/pda"
	"github.com/tgxzd/agrox/internal/repo"
	"github.com/tgxzd/agrox/internal/schema"
)

func main() {
	cfg := config.FromEnv()

	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")
	flag.StringVar(&cfg.LedgerPath, "ledger", cfg.LedgerPath, "local ledger Badger DB path")
	flag.BoolVar(&cfg.LedgerInMemory, "ledger-mem", cfg.LedgerInMemory, "keep the local ledger in memory (no persistence)")
	flag.StringVar(&cfg.SchemaPath, "schema", cfg.SchemaPath, "program schema JSON path (empty = built-in)")
	flag.StringVar(&cfg.MachineSeed, "machine-seed", cfg.MachineSeed, "machine account seed tag")
	flag.StringVar(&cfg.DeviceBaseURL, "device-url", cfg.DeviceBaseURL, "device controller base URL")
	flag.DurationVar(&cfg.DeviceTimeout, "device-timeout", cfg.DeviceTimeout, "device HTTP timeout")
	flag.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL (empty = events disabled)")
	flag.DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "delay before first capture after machine start")
	flag.DurationVar(&cfg.DataInterval, "data-interval", cfg.DataInterval, "telemetry capture interval")
	flag.DurationVar(&cfg.ImageInterval, "image-interval", cfg.ImageInterval, "image capture interval")
	tracing := flag.Bool("trace", false, "emit workflow traces to stdout")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if *tracing {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			logger.Fatal("trace exporter", zap.Error(err))
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	sch := schema.Default()
	if cfg.SchemaPath != "" {
		sch, err = schema.Load(cfg.SchemaPath)
		if err != nil {
			logger.Fatal("failed to load schema", zap.String("path", cfg.SchemaPath), zap.Error(err))
		}
	}
	seeds := pda.Seeds{MachineTag: cfg.MachineSeed}

	led, err := ledger.Open(ledger.Options{
		Path:     cfg.LedgerPath,
		InMemory: cfg.LedgerInMemory,
		Schema:   sch,
		Seeds:    seeds,
		Logger:   logger.Named("ledger"),
	})
	if err != nil {
		logger.Fatal("failed to open ledger", zap.Error(err))
	}
	defer led.Close()

	program, err := pda.Parse(sch.Program)
	if err != nil {
		logger.Fatal("bad program id in schema", zap.Error(err))
	}

	cod := codec.New(sch)
	rp := repo.New(led, cod, program, logger.Named("repo"))
	dev := device.NewController(cfg.DeviceBaseURL, cfg.DeviceTimeout, logger.Named("device"))

	var pub *events.Publisher
	if cfg.NATSURL != "" {
		pub, err = events.NewPublisher(cfg.NATSURL, logger.Named("events"))
		if err != nil {
			// The daemon is useful without the event bus; run degraded.
			logger.Warn("NATS unavailable, events disabled", zap.Error(err))
			pub = nil
		} else {
			defer pub.Close()
		}
	}

	orch, err := orchestrator.New(led, rp, cod, sch, dev, pub, orchestrator.Config{
		Seeds:         seeds,
		SettleDelay:   cfg.SettleDelay,
		DataInterval:  cfg.DataInterval,
		ImageInterval: cfg.ImageInterval,
	}, logger.Named("orchestrator"))
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	// Seed the repository so reads work before the first write.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := rp.RefreshAll(ctx); err != nil {
		logger.Warn("initial refresh failed", zap.Error(err))
	}
	cancel()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewHTTPHandler(orch, logger.Named("api")),
	}
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http listen", zap.Error(err))
		}
	}()

	go func() {
		mux := http.NewServeMux()
		api.RegisterMetrics(mux)
		logger.Info("Prometheus metrics available", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown initiated")

	// Stop capture loops first so no uploads race the ledger close.
	orch.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
