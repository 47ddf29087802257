package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/endrilickollari/ldp/internal/config"
	"github.com/endrilickollari/ldp/internal/docstore"
	"github.com/endrilickollari/ldp/internal/extract"
	"github.com/endrilickollari/ldp/internal/queue"
	"github.com/endrilickollari/ldp/internal/segment"
	"github.com/endrilickollari/ldp/internal/store"
	"github.com/endrilickollari/ldp/internal/structuring"
	"github.com/endrilickollari/ldp/internal/telemetry"
	"github.com/endrilickollari/ldp/internal/usage"
	"github.com/endrilickollari/ldp/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	jobs, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer jobs.Close()
	if err := jobs.Bootstrap(ctx); err != nil {
		logger.Error("bootstrap schema", "error", err)
		os.Exit(1)
	}

	var docs docstore.Store
	if cfg.DocumentS3Bucket != "" {
		docs, err = docstore.NewS3(ctx, cfg)
	} else {
		docs, err = docstore.NewLocal(cfg.DocumentDir)
	}
	if err != nil {
		logger.Error("init document store", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.NewRedis(redisClient, cfg.QueueKey)

	pipeline := worker.NewPipeline(
		jobs,
		docs,
		segment.NewSplitter(),
		extract.NewSelector(extract.NewTesseract(cfg)),
		structuring.NewClient(cfg, logger),
		usage.NewPostgres(jobs.Pool()),
		logger,
	)
	pool := worker.NewPool(q, pipeline, cfg.WorkerCount, cfg.WorkerPollInterval, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker pool started",
		"workers", cfg.WorkerCount,
		"poll_interval", cfg.WorkerPollInterval,
		"queue_key", cfg.QueueKey,
	)
	pool.Run(ctx)
}
