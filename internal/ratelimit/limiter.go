// Package ratelimit throttles requests per client.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config contains per-client limits
type Config struct {
	Enabled        bool
	RequestsPerMin int
	Burst          int
}

// Limiter keeps one token bucket per client key
type Limiter struct {
	config  Config
	clients map[string]*client
	mu      sync.Mutex
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a new limiter. A burst below one defaults to the per-minute rate.
func New(cfg Config) *Limiter {
	if cfg.Burst < 1 {
		cfg.Burst = cfg.RequestsPerMin
	}
	return &Limiter{
		config:  cfg,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Enabled reports whether requests are throttled at all
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.Enabled && l.config.RequestsPerMin > 0
}

// Allow checks if a request from the given client is allowed
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{
			limiter: rate.NewLimiter(rate.Limit(float64(l.config.RequestsPerMin)/60.0), l.config.Burst),
		}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Cleanup removes clients not seen for longer than idle
func (l *Limiter) Cleanup(idle time.Duration) int {
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done
func (l *Limiter) StartCleanup(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup(idle)
			}
		}
	}()
}
