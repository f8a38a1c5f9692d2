// Command worker runs one of the pipeline's analysis services, selected by
// the -service flag: ai_legal, ai_econom, contract_extractor, or sb.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/docpipe/docpipe/internal/adapter/broker"
	"github.com/docpipe/docpipe/internal/adapter/workerenvelope"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/domain"
	"github.com/docpipe/docpipe/internal/observability"
	"github.com/docpipe/docpipe/internal/workerlogic"
)

// runner is the common shape every worker envelope exposes.
type runner interface {
	Run(ctx domain.Context, workTopic string) error
}

func main() {
	service := flag.String("service", "", "worker service to run: ai_legal, ai_econom, contract_extractor, sb")
	flag.Parse()

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
		broker.WithConsumerGroup("docpipe-worker-"+*service),
	)
	if err != nil {
		slog.Error("broker connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer brokerClient.Close()

	var (
		r         runner
		workTopic string
	)
	switch *service {
	case string(domain.ServiceAILegal):
		r = workerenvelope.Envelope{
			Broker:       brokerClient,
			Service:      domain.ServiceAILegal,
			ResultsTopic: cfg.AggregationResultsTopic,
			Logic:        func(parts domain.SectionMap) (map[string]any, error) { return workerlogic.AILegal(parts), nil },
		}
		workTopic = cfg.AILegalTopic
	case string(domain.ServiceAIEconom):
		r = workerenvelope.Envelope{
			Broker:       brokerClient,
			Service:      domain.ServiceAIEconom,
			ResultsTopic: cfg.AggregationResultsTopic,
			Logic:        func(parts domain.SectionMap) (map[string]any, error) { return workerlogic.AIEconom(parts), nil },
		}
		workTopic = cfg.AIEconomTopic
	case string(domain.ServiceContractExtractor):
		r = workerenvelope.ContractExtractorEnvelope{
			Broker:       brokerClient,
			ResultsTopic: cfg.AggregationResultsTopic,
			SBTopic:      cfg.SBTopic,
		}
		workTopic = cfg.ContractExtractorTopic
	case "sb":
		r = workerenvelope.SBEnvelope{
			Broker:       brokerClient,
			ResultsTopic: cfg.AggregationResultsTopic,
		}
		workTopic = cfg.SBTopic
	default:
		slog.Error("unknown -service value", slog.String("service", *service))
		os.Exit(1)
	}

	slog.Info("worker starting", slog.String("service", *service), slog.String("work_topic", workTopic))
	if err := r.Run(ctx, workTopic); err != nil && ctx.Err() == nil {
		slog.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
