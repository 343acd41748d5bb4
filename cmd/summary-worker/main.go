// Package main 摘要任务消费者入口（summary-worker）
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"story-summary-ai/internal/config"
	"story-summary-ai/internal/infrastructure/eino/callback"
	"story-summary-ai/internal/wire"
	"story-summary-ai/pkg/logger"
	"story-summary-ai/pkg/metrics"
	"story-summary-ai/pkg/tracer"
)

const dlqAlertThreshold = 10

func main() {
	configPath := flag.String("config", "", "config file (default configs/config.yaml if present)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "summary-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	w, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	callback.Init(w.Usage)
	w.Handler.Register(w.Consumer)

	if err := w.Consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	log := logger.FromContext(ctx)
	log.Info("summary-worker started")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Observability.Metrics.Port, cfg.Observability.Metrics.Path)
		})
	}
	g.Go(func() error {
		w.Consumer.MonitorDLQ(gctx, 0, dlqAlertThreshold)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-w.Consumer.Done():
		}
		log.Info("summary-worker shutting down")
		w.Consumer.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("summary-worker exited with error", "error", err)
	}

	totals := w.Usage.Totals()
	log.Info("summary-worker stopped",
		"llm_calls", totals.Calls,
		"prompt_tokens", totals.PromptTokens,
		"completion_tokens", totals.CompletionTokens,
	)
}
