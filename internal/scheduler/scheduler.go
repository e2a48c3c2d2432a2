// Package scheduler triggers background tasks, such as model refreshes, on a
// timer or when watched files change.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Periodic runs a task on a fixed interval.
type Periodic struct {
	Name     string
	Interval time.Duration
	Task     Task
	Logger   *zap.Logger
}

// Run blocks until ctx is done. Task errors are logged and the schedule
// continues.
func (p *Periodic) Run(ctx context.Context) error {
	if p.Interval <= 0 {
		return fmt.Errorf("scheduler %s: interval must be positive", p.Name)
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.Logger.Info("Periodic task scheduled",
		zap.String("task", p.Name),
		zap.Duration("interval", p.Interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runTask(ctx, p.Name, p.Task, p.Logger)
		}
	}
}

func runTask(ctx context.Context, name string, task Task, logger *zap.Logger) {
	start := time.Now()
	if err := task(ctx); err != nil {
		logger.Error("Scheduled task failed",
			zap.String("task", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	logger.Debug("Scheduled task completed",
		zap.String("task", name),
		zap.Duration("duration", time.Since(start)))
}

// Watcher runs a task after files under the watched paths change. Bursts of
// events within the debounce window trigger a single run.
type Watcher struct {
	name     string
	debounce time.Duration
	task     Task
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
}

// NewWatcher watches every existing path. Missing paths are skipped with a
// warning so a model directory can be created later.
func NewWatcher(name string, paths []string, debounce time.Duration, task Task, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	watched := 0
	seen := make(map[string]bool)
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if _, err := os.Stat(p); err != nil {
			logger.Warn("Skipping watch path", zap.String("path", p), zap.Error(err))
			continue
		}
		if err := fw.Add(p); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", p, err)
		}
		watched++
	}

	logger.Info("File watcher started",
		zap.String("task", name),
		zap.Int("paths", watched),
		zap.Duration("debounce", debounce))

	return &Watcher{
		name:     name,
		debounce: debounce,
		task:     task,
		watcher:  fw,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("Watched path changed",
				zap.String("path", ev.Name),
				zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		case <-timerC:
			timerC = nil
			runTask(ctx, w.name, w.task, w.logger)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
