package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/endrilickollari/ldp/internal/api"
	"github.com/endrilickollari/ldp/internal/config"
	"github.com/endrilickollari/ldp/internal/docstore"
	"github.com/endrilickollari/ldp/internal/queue"
	"github.com/endrilickollari/ldp/internal/quota"
	"github.com/endrilickollari/ldp/internal/ratelimit"
	"github.com/endrilickollari/ldp/internal/store"
	"github.com/endrilickollari/ldp/internal/usage"
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
	limiter := ratelimit.NewSubmissionLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill)
	gate := quota.NewGate(usage.NewPostgres(jobs.Pool()))

	server := api.New(jobs, docs, q, gate, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "env", cfg.Env)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
