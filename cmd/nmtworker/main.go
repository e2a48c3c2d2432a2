// Package main consumes translation jobs from RabbitMQ.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/cache"
	"github.com/raaihank/nmt-proxy/internal/config"
	"github.com/raaihank/nmt-proxy/internal/logger"
	"github.com/raaihank/nmt-proxy/internal/queue"
	"github.com/raaihank/nmt-proxy/internal/registry"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, stopping worker...")
		cancel()
	}()

	loader := registry.NewLoader(cfg.Models, log.WithComponent("loader").Logger)
	models := registry.New(loader, cfg.Refresh.RetireGrace, log.WithComponent("registry").Logger)
	defer models.Close()
	if err := models.Refresh(ctx); err != nil {
		log.Fatal("Failed to load models", zap.Error(err))
	}
	registry.StartRefresh(ctx, models, loader, cfg, log.WithComponent("scheduler").Logger)

	var opts []translate.Option
	if cfg.Cache.Enabled {
		tc, err := cache.NewTranslationCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Translation cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer tc.Close()
			opts = append(opts, translate.WithCache(tc))
		}
	}

	worker := queue.NewWorker(queue.Config{
		URL:              cfg.Queue.URL,
		Exchange:         cfg.Queue.Exchange,
		Queue:            cfg.Queue.Queue,
		RoutingKey:       cfg.Queue.RoutingKey,
		ResultRoutingKey: cfg.Queue.ResultRoutingKey,
		Prefetch:         cfg.Queue.Prefetch,
		JobTimeout:       cfg.Queue.JobTimeout,
	}, translate.New(models, log.WithComponent("translate").Logger, opts...), log.WithComponent("queue").Logger)

	log.Info("Translation worker starting",
		zap.String("queue", cfg.Queue.Queue),
		zap.Int("models", len(models.Models())))

	if err := worker.Run(ctx); err != nil {
		log.Fatal("Worker stopped", zap.Error(err))
	}
	log.Info("Translation worker stopped")
}
