package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vultisig/ton-confirmer/config"
	"github.com/vultisig/ton-confirmer/internal/api"
	"github.com/vultisig/ton-confirmer/internal/history"
	"github.com/vultisig/ton-confirmer/internal/logging"
	"github.com/vultisig/ton-confirmer/internal/metrics"
	"github.com/vultisig/ton-confirmer/internal/storage"
	"github.com/vultisig/ton-confirmer/internal/tasks"
	"github.com/vultisig/ton-confirmer/internal/wallet"
	"github.com/vultisig/ton-confirmer/tx_confirmer"
	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/graceful"
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
	client := asynq.NewClient(redisConnOpt)
	defer func() {
		if err := client.Close(); err != nil {
			fmt.Println("fail to close asynq client,", err)
		}
	}()
	inspector := asynq.NewInspector(redisConnOpt)

	minimum, err := cfg.Submit.Minimum()
	if err != nil {
		panic(err)
	}
	bridge, err := wallet.NewBridge(logger, cfg.Wallet, cfg.Submit.ValidFor)
	if err != nil {
		logger.Fatalf("failed to create wallet bridge: %v", err)
	}
	submitter := tx_confirmer.NewSubmitter(logger, bridge, nil, minimum)

	metricsServer := metrics.StartMetricsServer(cfg.Metrics, []string{metrics.ServiceHTTP}, logger)
	var httpMetrics *metrics.HTTPMetrics
	if metricsServer != nil {
		httpMetrics = metrics.NewHTTPMetrics()
	}

	server := api.NewServer(
		api.Options{
			Addr:        cfg.ServerAddr(),
			Network:     cfg.Submit.Network,
			TaskTimeout: tasks.TaskTimeout(cfg.Poll),
		},
		logger,
		submitter,
		history.NewRedis(redisStorage.Client(), cfg.History.Key),
		redisStorage,
		client,
		inspector,
		httpMetrics,
	)
	if err := server.StartServer(ctx); err != nil {
		logger.Errorf("api server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Errorf("failed to stop metrics server: %v", err)
	}
}
