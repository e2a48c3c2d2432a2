// Package registry holds the loaded translation models and swaps them as a
// whole when they are refreshed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/engine"
	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/subword"
)

// ErrModelNotFound is returned by Get for ids missing from the snapshot.
var ErrModelNotFound = errors.New("model not found")

// Entry is one servable model. Entries are never modified once published.
type Entry struct {
	Descriptor  langpair.Descriptor
	Translator  engine.Translator
	SourceCodec subword.Codec
	TargetCodec subword.Codec
	Revision    uint64
	LoadedAt    time.Time
}

type snapshot struct {
	revision uint64
	loadedAt time.Time
	entries  map[int]*Entry
}

// RefreshEvent describes the outcome of one refresh.
type RefreshEvent struct {
	Revision uint64        `json:"revision"`
	ModelIDs []int         `json:"model_ids"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Registry serves lookups from an immutable snapshot published through an
// atomic pointer. Refresh builds a new snapshot off to the side and swaps it
// in; readers never wait for it.
type Registry struct {
	current  atomic.Pointer[snapshot]
	builder  Builder
	grace    time.Duration
	logger   *zap.Logger
	refresh  sync.Mutex
	onChange func(RefreshEvent)
}

// New creates an empty registry. grace is how long retired translators stay
// open for requests that already resolved them.
func New(builder Builder, grace time.Duration, logger *zap.Logger) *Registry {
	r := &Registry{
		builder: builder,
		grace:   grace,
		logger:  logger,
	}
	r.current.Store(&snapshot{entries: map[int]*Entry{}})
	return r
}

// OnRefresh registers a callback invoked after every refresh attempt.
func (r *Registry) OnRefresh(fn func(RefreshEvent)) {
	r.refresh.Lock()
	defer r.refresh.Unlock()
	r.onChange = fn
}

// Get returns the entry for id.
func (r *Registry) Get(id int) (*Entry, error) {
	e, ok := r.current.Load().entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrModelNotFound, id)
	}
	return e, nil
}

// Models lists the published entries ordered by id.
func (r *Registry) Models() []*Entry {
	snap := r.current.Load()
	out := make([]*Entry, 0, len(snap.entries))
	for _, e := range snap.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.ID < out[j].Descriptor.ID })
	return out
}

// Revision returns the revision of the published snapshot, 0 before the
// first successful refresh.
func (r *Registry) Revision() uint64 {
	return r.current.Load().revision
}

// LoadedAt returns when the published snapshot was built.
func (r *Registry) LoadedAt() time.Time {
	return r.current.Load().loadedAt
}

// Refresh rebuilds every entry and publishes the result in one store. When
// the build fails the previous snapshot stays in place.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refresh.Lock()
	defer r.refresh.Unlock()

	start := time.Now()
	old := r.current.Load()
	revision := old.revision + 1

	entries, err := r.builder.Build(ctx)
	if err != nil {
		r.logger.Error("Model refresh failed, keeping previous models",
			zap.Uint64("revision", old.revision),
			zap.Error(err))
		r.notify(RefreshEvent{Revision: old.revision, ModelIDs: idsOf(old), Duration: time.Since(start), Error: err.Error()})
		return fmt.Errorf("model refresh failed: %w", err)
	}

	next := &snapshot{
		revision: revision,
		loadedAt: time.Now(),
		entries:  make(map[int]*Entry, len(entries)),
	}
	for _, e := range entries {
		e.Revision = revision
		e.LoadedAt = next.loadedAt
		next.entries[e.Descriptor.ID] = e
	}

	r.current.Store(next)
	r.retire(old)

	r.logger.Info("Models refreshed",
		zap.Uint64("revision", revision),
		zap.Int("models", len(next.entries)),
		zap.Duration("duration", time.Since(start)))
	r.notify(RefreshEvent{Revision: revision, ModelIDs: idsOf(next), Duration: time.Since(start)})

	return nil
}

// Close closes the translators of the published snapshot and leaves the
// registry empty.
func (r *Registry) Close() error {
	r.refresh.Lock()
	defer r.refresh.Unlock()

	old := r.current.Swap(&snapshot{entries: map[int]*Entry{}})
	var errs []error
	for _, e := range old.entries {
		if err := e.Translator.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) retire(old *snapshot) {
	if len(old.entries) == 0 {
		return
	}
	closeAll := func() {
		for id, e := range old.entries {
			if err := e.Translator.Close(); err != nil {
				r.logger.Warn("Failed to close retired translator",
					zap.Int("model_id", id),
					zap.Uint64("revision", old.revision),
					zap.Error(err))
			}
		}
	}
	if r.grace <= 0 {
		closeAll()
		return
	}
	time.AfterFunc(r.grace, closeAll)
}

func (r *Registry) notify(ev RefreshEvent) {
	if r.onChange != nil {
		r.onChange(ev)
	}
}

func idsOf(s *snapshot) []int {
	ids := make([]int, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
