package registry

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/config"
	"github.com/raaihank/nmt-proxy/internal/scheduler"
)

// StartRefresh keeps r current until ctx is done: a periodic refresh when
// refresh.enabled is set, a model directory watcher when refresh.watch is
// set, and a reload on config file changes. A nil loader skips config
// reloads.
func StartRefresh(ctx context.Context, r *Registry, loader *Loader, cfg *config.Config, logger *zap.Logger) {
	if cfg.Refresh.Enabled {
		periodic := &scheduler.Periodic{
			Name:     "model-refresh",
			Interval: cfg.Refresh.Interval,
			Task:     r.Refresh,
			Logger:   logger,
		}
		go func() {
			if err := periodic.Run(ctx); err != nil {
				logger.Error("Periodic refresh stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Refresh.Watch {
		watcher, err := scheduler.NewWatcher("model-watch", WatchPaths(cfg.Models), cfg.Refresh.Debounce, r.Refresh, logger)
		if err != nil {
			logger.Warn("Model directory watcher unavailable", zap.Error(err))
		} else {
			go func() {
				defer watcher.Close()
				if err := watcher.Run(ctx); err != nil {
					logger.Error("Model directory watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	if loader == nil {
		return
	}
	err := config.Watch(func(next *config.Config) {
		logger.Info("Configuration changed, reloading models", zap.Int("models", len(next.Models)))
		loader.SetModels(next.Models)
		if err := r.Refresh(ctx); err != nil {
			logger.Error("Model reload after config change failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Debug("Config file not watched", zap.Error(err))
	}
}

// WatchPaths returns the model directories and the directories holding the
// subword codes files
func WatchPaths(models []config.ModelConfig) []string {
	var paths []string
	for _, m := range models {
		if m.ModelDir != "" {
			paths = append(paths, m.ModelDir)
		}
		for _, codes := range []string{m.SourceCodes, m.TargetCodes} {
			if codes != "" {
				paths = append(paths, filepath.Dir(codes))
			}
		}
	}
	return paths
}
