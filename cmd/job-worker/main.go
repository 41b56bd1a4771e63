// Package main 异步任务执行器入口（job-worker）：嵌入预热与持久层清理
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"convergence-engine/internal/application/warmup"
	"convergence-engine/internal/bootstrap"
	"convergence-engine/internal/config"
	"convergence-engine/internal/infrastructure/messaging"
	"convergence-engine/internal/interfaces/worker"
	einoobs "convergence-engine/internal/observability/eino"
	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/tracer"
)

// Version 构建时注入
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "job-worker",
		Version:     Version,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init()

	data, err := bootstrap.NewDataLayer(ctx, cfg, bootstrap.DataOptions{RequireRedis: true, SkipVectorStore: true})
	if err != nil {
		logger.Fatal(ctx, "failed to initialize data layer", err)
	}
	defer data.Close()

	svc, err := bootstrap.NewEmbeddingService(ctx, cfg.Embedding, data.EmbeddingStore)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize embedding service", err)
	}

	coalescer := warmup.NewCoalescer(bootstrap.WarmupConfig(cfg.Embedding.Warmup), svc)

	streamCfg := cfg.Messaging.RedisStream
	newConsumer := func(stream messaging.Stream, group messaging.ConsumerGroup) *messaging.Consumer {
		return messaging.NewConsumer(data.Redis.Redis(), messaging.ConsumerConfig{
			Stream:        stream,
			Group:         group.WithPrefix(streamCfg.ConsumerGroupPrefix),
			ConsumerName:  hostnameConsumerName(),
			BlockTimeout:  streamCfg.BlockTimeout,
			ClaimInterval: streamCfg.ClaimInterval,
			RetryLimit:    streamCfg.RetryLimit,
			Backoff: messaging.BackoffConfig{
				Initial:    streamCfg.RetryBackoff.Initial,
				Max:        streamCfg.RetryBackoff.Max,
				Multiplier: streamCfg.RetryBackoff.Multiplier,
			},
		})
	}

	warmupConsumer := newConsumer(messaging.StreamEmbeddingWarmup, messaging.ConsumerGroupWarmup)
	warmupConsumer.RegisterHandler(messaging.TypeEmbeddingWarmup, worker.WarmupHandler(coalescer))

	sweepConsumer := newConsumer(messaging.StreamEmbeddingSweep, messaging.ConsumerGroupSweeper)
	sweepConsumer.RegisterHandler(messaging.TypeEmbeddingSweep, worker.SweepHandler(svc))

	for _, c := range []*messaging.Consumer{warmupConsumer, sweepConsumer} {
		if err := c.Start(ctx); err != nil {
			logger.Fatal(ctx, "failed to start consumer", err)
		}
	}

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		worker.RunSweeper(ctx, cfg.Embedding.Sweep.Interval, svc)
	}()

	log := logger.FromContext(ctx)
	log.Info("job-worker started",
		"sweep_interval", cfg.Embedding.Sweep.Interval.String(),
		"warmup_window", cfg.Embedding.Warmup.Window.String(),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("job-worker shutting down")
	warmupConsumer.Stop()
	sweepConsumer.Stop()
	cancel()
	<-sweeperDone

	// 刷新窗口内剩余的预热文本
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := coalescer.Close(closeCtx); err != nil {
		log.Error("warmup queue did not drain", "error", err)
	}
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
