package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/hybrid-retriever/internal/bootstrap"
	"github.com/kirillkom/hybrid-retriever/internal/config"
	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/observability/logging"
	"github.com/kirillkom/hybrid-retriever/internal/observability/metrics"
)

const (
	serviceName   = "worker"
	ingestTimeout = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, serviceName, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		Logger:     logger,
		Registerer: workerMetrics.Registry(),
		WithQueue:  true,
	})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeSourceIngested(ctx, func(handlerCtx context.Context, req domain.IngestRequest) error {
		if !req.RequestedAt.IsZero() {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(req.RequestedAt))
		}

		processCtx, cancel := context.WithTimeout(handlerCtx, ingestTimeout)
		defer cancel()

		start := time.Now()
		workerMetrics.StartIngest()
		_, err := app.Retrieval.Ingest(processCtx, req)
		workerMetrics.FinishIngest(serviceName, time.Since(start), err)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_error", "error", err)
		os.Exit(1)
	}
}
