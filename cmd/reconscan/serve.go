package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reconscan/reconscan/internal/api"
	"github.com/reconscan/reconscan/internal/cache"
	"github.com/reconscan/reconscan/internal/config"
	"github.com/reconscan/reconscan/internal/queue"
	"github.com/reconscan/reconscan/internal/scheduler"
	"github.com/reconscan/reconscan/internal/sink"
	"github.com/reconscan/reconscan/internal/target"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the reconnaissance HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	newLogger := zap.NewProduction
	if cfg.Logging.Format == "console" {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Info("starting reconscan")
	sugar.Infow("configuration loaded", "port", cfg.Server.Port, "cache_backend", cfg.Cache.Backend, "queue_backend", cfg.Queue.Backend, "sink_backend", cfg.Sink.Backend)

	resolver := target.NewResolver("")
	sched := scheduler.New(nil)

	store, err := buildCacheStore(cfg.Cache, sugar)
	if err != nil {
		return fmt.Errorf("build cache store: %w", err)
	}
	c := cache.New(store)

	sk, err := buildSink(cfg.Sink)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}

	broker, err := buildBroker(cfg.Queue, cfg.RabbitMQ, sugar)
	if err != nil {
		return fmt.Errorf("build queue broker: %w", err)
	}

	executor := api.NewExecutor(sched, c, sk, nil, sugar)
	queueMgr := queue.NewManager(broker, executor, sugar)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := queueMgr.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("queue manager stopped", "error", err)
		}
	}()
	go runReaper(ctx, queueMgr, sugar)

	server := api.New(cfg.Scan, resolver, sched, c, queueMgr, sk, nil, sugar)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("HTTP server listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("server forced to shutdown: %v", err)
	}

	sugar.Info("server stopped")
	return nil
}

// buildCacheStore wires the configured backend behind the mandatory
// in-process fallback, so an unreachable Redis never fails a lookup.
func buildCacheStore(cfg config.CacheConfig, logger *zap.SugaredLogger) (cache.Store, error) {
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisStore := cache.NewRedisStore(redis.NewClient(opts))
		return cache.NewFallbackStore(redisStore, cache.NewMemoryStore(), logger), nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

func buildSink(cfg config.SinkConfig) (sink.Sink, error) {
	switch cfg.Backend {
	case "postgres":
		sk, err := sink.NewPostgresSink(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if m, ok := sk.(sink.Migrator); ok {
			if err := m.Migrate(context.Background()); err != nil {
				return nil, fmt.Errorf("migrate postgres schema: %w", err)
			}
		}
		return sk, nil
	default:
		return sink.NewMemorySink(), nil
	}
}

func buildBroker(cfg config.QueueConfig, rmq config.RabbitMQConfig, logger *zap.SugaredLogger) (queue.Broker, error) {
	switch cfg.Backend {
	case "rabbitmq":
		return queue.NewRabbitMQBroker(rmq.URL, logger)
	default:
		return queue.NewMemoryBroker(cfg.MemoryBufferSize), nil
	}
}

// runReaper periodically clears terminal tasks past the retention
// window, per spec.md §4.8.
func runReaper(ctx context.Context, m *queue.Manager, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Reap(now); n > 0 {
				logger.Infow("reaped completed tasks", "count", n)
			}
		}
	}
}
