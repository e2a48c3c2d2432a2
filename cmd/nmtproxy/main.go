package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/audit"
	"github.com/raaihank/nmt-proxy/internal/cache"
	"github.com/raaihank/nmt-proxy/internal/config"
	"github.com/raaihank/nmt-proxy/internal/logger"
	"github.com/raaihank/nmt-proxy/internal/ratelimit"
	"github.com/raaihank/nmt-proxy/internal/registry"
	"github.com/raaihank/nmt-proxy/internal/server"
	"github.com/raaihank/nmt-proxy/internal/translate"
	"github.com/raaihank/nmt-proxy/internal/websocket"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the health endpoint at this URL and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("nmt-proxy %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting NMT proxy",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
		zap.Int("models", len(cfg.Models)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Model registry
	loader := registry.NewLoader(cfg.Models, log.WithComponent("loader").Logger)
	models := registry.New(loader, cfg.Refresh.RetireGrace, log.WithComponent("registry").Logger)
	defer models.Close()

	// Event hub
	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(&websocket.HubConfig{
			BroadcastTranslation: cfg.WebSocket.BroadcastTranslate,
			BroadcastRefresh:     cfg.WebSocket.BroadcastRefresh,
			BroadcastConnections: cfg.WebSocket.BroadcastConnection,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
			TrustProxyHeaders:    cfg.Server.TrustProxyHeaders,
		}, log.WithComponent("websocket").Logger)
		go hub.Run(ctx)

		models.OnRefresh(func(ev registry.RefreshEvent) {
			hub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeRegistryRefresh,
				Timestamp: time.Now(),
				Data: websocket.RegistryRefreshEvent{
					Revision:   ev.Revision,
					ModelIDs:   ev.ModelIDs,
					DurationMS: float64(ev.Duration.Nanoseconds()) / 1e6,
					Error:      ev.Error,
				},
			})
		})
	}

	// A failed first load leaves the registry empty; /health reports it and
	// the scheduler keeps retrying.
	if err := models.Refresh(ctx); err != nil {
		log.Error("Initial model load failed", zap.Error(err))
	}

	// Translation cache
	var (
		opts       []translate.Option
		cacheStats server.CacheStats
	)
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
			cacheStats = tc
		}
	}

	pipeline := translate.New(models, log.WithComponent("translate").Logger, opts...)

	deps := server.Deps{
		Pipeline: pipeline,
		Catalog:  models,
		Cache:    cacheStats,
		Hub:      hub,
		Limiter: ratelimit.New(ratelimit.Config{
			Enabled:        cfg.RateLimit.Enabled,
			RequestsPerMin: cfg.RateLimit.RequestsPerMin,
			Burst:          cfg.RateLimit.Burst,
		}),
	}
	if deps.Limiter.Enabled() {
		deps.Limiter.StartCleanup(ctx, 30*time.Minute, time.Hour)
	}

	// Audit store
	if cfg.Audit.Enabled {
		store, err := audit.NewStore(&audit.Config{
			DatabaseURL:     cfg.Audit.DatabaseURL,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		}, log.WithComponent("audit").Logger)
		if err != nil {
			log.Warn("Audit store unavailable, continuing without it", zap.Error(err))
		} else {
			defer store.Close()
			deps.Audit = store
		}
	}

	registry.StartRefresh(ctx, models, loader, cfg, log.WithComponent("scheduler").Logger)

	srv := server.New(cfg, log, deps)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
