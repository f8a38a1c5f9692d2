// Command aggregator tracks each task's expected and received worker
// partials and emits one final envelope per task, either on natural
// completion or on the stale-task sweep firing.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/docpipe/docpipe/internal/adapter/broker"
	"github.com/docpipe/docpipe/internal/adapter/stalesweep"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/observability"
	"github.com/docpipe/docpipe/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerClient, err := broker.Connect(ctx, cfg.KafkaBrokers,
		broker.WithPrefetch(cfg.ConsumerMaxConcurrency),
		broker.WithReconnectBackoff(cfg.ReconnectInitialInterval, cfg.ReconnectMaxInterval, cfg.ReconnectMaxElapsedTime),
		broker.WithConsumerGroup("docpipe-aggregator"),
	)
	if err != nil {
		slog.Error("broker connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer brokerClient.Close()

	sweeper, err := stalesweep.New(cfg.RedisURL, cfg.StaleTaskTimeout)
	if err != nil {
		slog.Error("stale sweep scheduler init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = sweeper.Close() }()

	aggregatorSvc := usecase.NewAggregatorService(brokerClient, sweeper)

	sweepServer, err := stalesweep.NewServer(cfg.RedisURL, cfg.ConsumerMaxConcurrency, aggregatorSvc.Sweep)
	if err != nil {
		slog.Error("stale sweep server init failed", slog.Any("error", err))
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		slog.Info("aggregator init consumer starting", slog.String("topic", cfg.AggregationTasksTopic))
		if err := aggregatorSvc.RunInit(ctx, cfg.AggregationTasksTopic); err != nil && ctx.Err() == nil {
			slog.Error("aggregator init consumer stopped with error", slog.Any("error", err))
		}
	}()

	go func() {
		defer wg.Done()
		slog.Info("aggregator results consumer starting", slog.String("topic", cfg.AggregationResultsTopic))
		if err := aggregatorSvc.RunResults(ctx, cfg.AggregationResultsTopic); err != nil && ctx.Err() == nil {
			slog.Error("aggregator results consumer stopped with error", slog.Any("error", err))
		}
	}()

	go func() {
		defer wg.Done()
		slog.Info("stale sweep server starting")
		if err := sweepServer.Run(); err != nil {
			slog.Error("stale sweep server stopped with error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")
	sweepServer.Shutdown()
	wg.Wait()
	slog.Info("aggregator stopped")
}
