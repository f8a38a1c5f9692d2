// Command dispatcher consumes uploaded documents, slices them into the
// canonical section map, and fans the work out to the analysis workers.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/docpipe/docpipe/internal/adapter/broker"
	"github.com/docpipe/docpipe/internal/adapter/repo/postgres"
	"github.com/docpipe/docpipe/internal/adapter/slicer"
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

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	auditRepo := postgres.NewAuditRepo(pool)

	brokerClient, err := broker.Connect(ctx, cfg.KafkaBrokers,
		broker.WithPrefetch(cfg.ConsumerMaxConcurrency),
		broker.WithReconnectBackoff(cfg.ReconnectInitialInterval, cfg.ReconnectMaxInterval, cfg.ReconnectMaxElapsedTime),
		broker.WithConsumerGroup("docpipe-dispatcher"),
	)
	if err != nil {
		slog.Error("broker connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer brokerClient.Close()

	dispatcherSvc := usecase.DispatcherService{
		Broker:            brokerClient,
		Slicer:            slicer.New(),
		Audit:             auditRepo,
		DataDir:           cfg.DataDir,
		LegalTopic:        cfg.AILegalTopic,
		EconomTopic:       cfg.AIEconomTopic,
		ExtractorTopic:    cfg.ContractExtractorTopic,
		AggTasksTopic:     cfg.AggregationTasksTopic,
		EconomSections:    cfg.AIEconomSections,
		ExtractorSections: cfg.ContractExtractorSections,
	}

	slog.Info("dispatcher starting", slog.String("upload_topic", cfg.UploadTopic))
	if err := dispatcherSvc.Run(ctx, cfg.UploadTopic); err != nil && ctx.Err() == nil {
		slog.Error("dispatcher stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("dispatcher stopped")
}
