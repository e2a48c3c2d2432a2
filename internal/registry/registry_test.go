package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/config"
	"github.com/raaihank/nmt-proxy/internal/engine"
	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/subword"
)

type fakeTranslator struct {
	closed atomic.Bool
}

func (f *fakeTranslator) Translate(ctx context.Context, lines, constraints []string) ([]string, error) {
	return lines, nil
}

func (f *fakeTranslator) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeBuilder struct {
	mu    sync.Mutex
	ids   []int
	err   error
	built [][]*Entry
}

func (b *fakeBuilder) Build(ctx context.Context) ([]*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	entries := make([]*Entry, 0, len(b.ids))
	for _, id := range b.ids {
		entries = append(entries, &Entry{
			Descriptor:  langpair.Descriptor{ID: id, SourceLang: "hi", TargetLang: "en", Mode: langpair.Simple},
			Translator:  &fakeTranslator{},
			SourceCodec: subword.Identity{},
			TargetCodec: subword.Identity{},
		})
	}
	b.built = append(b.built, entries)
	return entries, nil
}

func TestRegistryRefresh(t *testing.T) {
	builder := &fakeBuilder{ids: []int{101, 100}}
	reg := New(builder, 0, zap.NewNop())

	if _, err := reg.Get(100); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound before first refresh, got %v", err)
	}

	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if reg.Revision() != 1 {
		t.Errorf("expected revision 1, got %d", reg.Revision())
	}

	entry, err := reg.Get(100)
	if err != nil {
		t.Fatalf("Get(100) failed: %v", err)
	}
	if entry.Revision != 1 {
		t.Errorf("entry revision = %d, want 1", entry.Revision)
	}

	models := reg.Models()
	if len(models) != 2 || models[0].Descriptor.ID != 100 || models[1].Descriptor.ID != 101 {
		t.Errorf("Models() not sorted by id: %+v", models)
	}

	if _, err := reg.Get(999); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound for 999, got %v", err)
	}
}

func TestRegistrySwapRetiresOldEntries(t *testing.T) {
	builder := &fakeBuilder{ids: []int{100}}
	reg := New(builder, 0, zap.NewNop())

	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	first, _ := reg.Get(100)

	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	second, _ := reg.Get(100)

	if first == second {
		t.Fatal("expected a new entry after refresh")
	}
	if !first.Translator.(*fakeTranslator).closed.Load() {
		t.Error("retired translator should be closed with zero grace")
	}
	if second.Translator.(*fakeTranslator).closed.Load() {
		t.Error("published translator must stay open")
	}
	if second.Revision != 2 {
		t.Errorf("expected revision 2, got %d", second.Revision)
	}
}

func TestRegistryRetireGrace(t *testing.T) {
	builder := &fakeBuilder{ids: []int{100}}
	reg := New(builder, 20*time.Millisecond, zap.NewNop())

	_ = reg.Refresh(context.Background())
	first, _ := reg.Get(100)
	_ = reg.Refresh(context.Background())

	tr := first.Translator.(*fakeTranslator)
	if tr.closed.Load() {
		t.Fatal("retired translator closed before grace elapsed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !tr.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("retired translator never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryFailedRefreshKeepsSnapshot(t *testing.T) {
	builder := &fakeBuilder{ids: []int{100}}
	reg := New(builder, 0, zap.NewNop())
	_ = reg.Refresh(context.Background())

	var events []RefreshEvent
	reg.OnRefresh(func(ev RefreshEvent) { events = append(events, ev) })

	builder.err = errors.New("codes file missing")
	if err := reg.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	entry, err := reg.Get(100)
	if err != nil {
		t.Fatalf("old snapshot should still serve: %v", err)
	}
	if entry.Translator.(*fakeTranslator).closed.Load() {
		t.Error("published translator closed after failed refresh")
	}
	if reg.Revision() != 1 {
		t.Errorf("revision changed on failure: %d", reg.Revision())
	}
	if len(events) != 1 || events[0].Error == "" {
		t.Errorf("expected one failure event, got %+v", events)
	}
}

func TestRegistryConcurrentReaders(t *testing.T) {
	builder := &fakeBuilder{ids: []int{100, 101, 102}}
	reg := New(builder, time.Second, zap.NewNop())
	_ = reg.Refresh(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				for _, id := range []int{100, 101, 102} {
					e, err := reg.Get(id)
					if err != nil {
						t.Errorf("Get(%d) failed mid-refresh: %v", id, err)
						return
					}
					if e.Descriptor.ID != id {
						t.Errorf("torn entry: want %d got %d", id, e.Descriptor.ID)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		if err := reg.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
	}
	cancel()
	wg.Wait()
}

func TestRegistryClose(t *testing.T) {
	builder := &fakeBuilder{ids: []int{100}}
	reg := New(builder, 0, zap.NewNop())
	_ = reg.Refresh(context.Background())
	entry, _ := reg.Get(100)

	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !entry.Translator.(*fakeTranslator).closed.Load() {
		t.Error("Close should close published translators")
	}
	if len(reg.Models()) != 0 {
		t.Error("registry should be empty after Close")
	}
}

func TestLoaderBuild(t *testing.T) {
	dir := t.TempDir()
	codes := filepath.Join(dir, "codes.hi")
	if err := os.WriteFile(codes, []byte("#version: 0.2\nh e\nl l\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var created []*fakeTranslator
	factory := func(cfg config.ModelConfig, logger *zap.Logger) (engine.Translator, error) {
		if cfg.Endpoint == "bad" {
			return nil, errors.New("cannot reach model")
		}
		tr := &fakeTranslator{}
		created = append(created, tr)
		return tr, nil
	}

	models := []config.ModelConfig{
		{ID: 100, SourceLang: "hi", TargetLang: "en", Mode: "simple", Backend: "http", Endpoint: "x", SourceCodes: codes},
		{ID: 103, SourceLang: "hi", TargetLang: "en", Mode: "constrained", Backend: "http", Endpoint: "x", SourceCodes: codes},
	}
	loader := NewLoader(models, zap.NewNop()).WithTranslatorFactory(factory)

	t.Run("Success", func(t *testing.T) {
		entries, err := loader.Build(context.Background())
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		if entries[0].SourceCodec != entries[1].SourceCodec {
			t.Error("shared codes file should be loaded once")
		}
		if _, ok := entries[0].TargetCodec.(subword.Identity); !ok {
			t.Errorf("missing target codes should give Identity, got %T", entries[0].TargetCodec)
		}
		if entries[1].Descriptor.Mode != langpair.Constrained {
			t.Errorf("unexpected mode %q", entries[1].Descriptor.Mode)
		}
	})

	t.Run("OrderedByID", func(t *testing.T) {
		loader.SetModels([]config.ModelConfig{models[1], models[0]})
		entries, err := loader.Build(context.Background())
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if entries[0].Descriptor.ID != 100 || entries[1].Descriptor.ID != 103 {
			t.Errorf("entries not ordered by id: %d, %d", entries[0].Descriptor.ID, entries[1].Descriptor.ID)
		}
		if entries[0].Descriptor.String() != "hi-en" {
			t.Errorf("unexpected pair %s", entries[0].Descriptor)
		}
	})

	t.Run("FailureClosesOpened", func(t *testing.T) {
		created = nil
		bad := append([]config.ModelConfig(nil), models...)
		bad[1].Endpoint = "bad"
		loader.SetModels(bad)

		if _, err := loader.Build(context.Background()); err == nil {
			t.Fatal("expected build error")
		}
		if len(created) != 1 || !created[0].closed.Load() {
			t.Error("translators opened before the failure should be closed")
		}
	})

	t.Run("MissingCodes", func(t *testing.T) {
		bad := append([]config.ModelConfig(nil), models...)
		bad[0].SourceCodes = filepath.Join(dir, "missing")
		loader.SetModels(bad)

		if _, err := loader.Build(context.Background()); err == nil {
			t.Fatal("expected error for missing codes file")
		}
	})

	t.Run("DuplicateIDs", func(t *testing.T) {
		loader.SetModels([]config.ModelConfig{models[0], models[0]})
		if _, err := loader.Build(context.Background()); err == nil {
			t.Fatal("expected duplicate id error")
		}
	})
}

func (b *fakeBuilder) builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.built)
}

func TestStartRefresh(t *testing.T) {
	t.Run("Periodic", func(t *testing.T) {
		builder := &fakeBuilder{ids: []int{100}}
		r := New(builder, 0, zap.NewNop())
		defer r.Close()

		cfg := config.GetDefaults()
		cfg.Refresh.Interval = 10 * time.Millisecond
		cfg.Refresh.Watch = false

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		StartRefresh(ctx, r, nil, cfg, zap.NewNop())

		deadline := time.Now().Add(2 * time.Second)
		for builder.builds() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if builder.builds() < 2 {
			t.Fatalf("expected repeated refreshes, got %d", builder.builds())
		}
		if r.Revision() < 2 {
			t.Errorf("expected revision to advance, got %d", r.Revision())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		builder := &fakeBuilder{ids: []int{100}}
		r := New(builder, 0, zap.NewNop())
		defer r.Close()

		cfg := config.GetDefaults()
		cfg.Refresh.Enabled = false
		cfg.Refresh.Interval = 10 * time.Millisecond
		cfg.Refresh.Watch = false

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		StartRefresh(ctx, r, nil, cfg, zap.NewNop())

		time.Sleep(50 * time.Millisecond)
		if n := builder.builds(); n != 0 {
			t.Errorf("expected no refresh when disabled, got %d", n)
		}
	})
}

func TestWatchPaths(t *testing.T) {
	paths := WatchPaths([]config.ModelConfig{
		{ModelDir: "models/hi-en", SourceCodes: "codes/hi/codes.hi", TargetCodes: "codes/en/codes.en"},
		{Backend: "http"},
	})
	want := []string{"models/hi-en", "codes/hi", "codes/en"}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path %d: expected %q, got %q", i, want[i], paths[i])
		}
	}
}
