package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vultisig/ton-confirmer/config"
	"github.com/vultisig/ton-confirmer/internal/health"
	"github.com/vultisig/ton-confirmer/internal/history"
	"github.com/vultisig/ton-confirmer/internal/logging"
	"github.com/vultisig/ton-confirmer/internal/metrics"
	"github.com/vultisig/ton-confirmer/internal/storage"
	"github.com/vultisig/ton-confirmer/internal/tasks"
	"github.com/vultisig/ton-confirmer/tx_confirmer"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/graceful"
	cmetrics "github.com/vultisig/ton-confirmer/tx_confirmer/pkg/metrics"
)

func main() {
	cfg, err := config.GetConfigure()
	if err != nil {
		panic(err)
	}

	logger := logging.NewLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := graceful.Context(context.Background(), logger)
	defer stop()

	redisStorage, err := storage.NewRedisStorage(cfg.Redis)
	if err != nil {
		logger.Fatalf("failed to connect to redis: %v", err)
	}
	defer func() {
		if err := redisStorage.Close(); err != nil {
			logger.Errorf("fail to close redis, %v", err)
		}
	}()

	redisConnOpt, err := cfg.Redis.AsynqConnOpt()
	if err != nil {
		panic(err)
	}

	metricsServer := metrics.StartMetricsServer(
		cfg.Metrics,
		[]string{metrics.ServiceConfirmer, metrics.ServiceWorker},
		logger,
	)
	var confirmerMetrics cmetrics.ConfirmerMetrics = cmetrics.NewNilConfirmerMetrics()
	var workerMetrics *metrics.WorkerMetrics
	if metricsServer != nil {
		confirmerMetrics = metrics.NewConfirmerMetrics()
		workerMetrics = metrics.NewWorkerMetrics()
	}

	sources, err := tx_confirmer.NewSources(cfg.Sources, logger)
	if err != nil {
		logger.Fatalf("failed to build sources: %v", err)
	}
	poller := tx_confirmer.NewPoller(logger, cfg.Poll, sources.Primary, sources.Secondary, confirmerMetrics)

	handler := tasks.NewConfirmHandler(
		logger,
		poller,
		history.NewRedis(redisStorage.Client(), cfg.History.Key),
		redisStorage,
	)

	srv := asynq.NewServer(
		redisConnOpt,
		asynq.Config{
			Logger:          logger,
			Concurrency:     cfg.Worker.Concurrency,
			ShutdownTimeout: 10 * time.Second,
			Queues: map[string]int{
				tasks.QUEUE_NAME: 10,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(
		tasks.TypeConfirmTransfer,
		metrics.WithWorkerMetrics(handler.HandleConfirmTransfer, tasks.TypeConfirmTransfer, workerMetrics),
	)

	if cfg.HealthPort > 0 {
		healthServer := health.New(cfg.HealthPort)
		healthServer.AddCheck("redis", redisStorage.Ping)
		go func() {
			if err := healthServer.Start(ctx, logger); err != nil {
				logger.Errorf("health server failed: %v", err)
			}
		}()
	}

	if err := srv.Start(mux); err != nil {
		panic(fmt.Errorf("could not run server: %w", err))
	}
	logger.Info("worker started")

	<-ctx.Done()
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Errorf("failed to stop metrics server: %v", err)
	}
	logger.Info("worker stopped")
}
