// Command gateway starts the HTTP upload endpoint that bridges a caller to
// the asynchronous broker round-trip.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docpipe/docpipe/internal/adapter/broker"
	httpserver "github.com/docpipe/docpipe/internal/adapter/httpserver"
	"github.com/docpipe/docpipe/internal/adapter/repo/postgres"
	"github.com/docpipe/docpipe/internal/app"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/observability"
	"github.com/docpipe/docpipe/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
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

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	brokerClient, err := broker.Connect(ctx, cfg.KafkaBrokers,
		broker.WithPrefetch(cfg.ConsumerMaxConcurrency),
		broker.WithReconnectBackoff(cfg.ReconnectInitialInterval, cfg.ReconnectMaxInterval, cfg.ReconnectMaxElapsedTime),
		broker.WithConsumerGroup("docpipe-gateway"),
	)
	if err != nil {
		slog.Error("broker connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer brokerClient.Close()

	gatewaySvc := usecase.GatewayService{
		Broker:      brokerClient,
		UploadTopic: cfg.UploadTopic,
		Timeout:     cfg.GatewayTimeout,
	}

	dbCheck, brokerCheck := app.BuildReadinessChecks(pool, brokerClient)
	srv := httpserver.NewServer(cfg, gatewaySvc, brokerCheck, dbCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
