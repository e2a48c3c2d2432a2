package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/config"
	"github.com/raaihank/nmt-proxy/internal/engine"
	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/subword"
)

// Builder produces a complete set of entries for a new snapshot.
type Builder interface {
	Build(ctx context.Context) ([]*Entry, error)
}

// TranslatorFactory creates the runtime for one model.
type TranslatorFactory func(cfg config.ModelConfig, logger *zap.Logger) (engine.Translator, error)

// Loader builds entries from the configured model list.
type Loader struct {
	mu            sync.Mutex
	models        []config.ModelConfig
	newTranslator TranslatorFactory
	logger        *zap.Logger
}

// NewLoader creates a loader using the engine factory.
func NewLoader(models []config.ModelConfig, logger *zap.Logger) *Loader {
	return &Loader{
		models:        models,
		newTranslator: engine.NewTranslator,
		logger:        logger,
	}
}

// WithTranslatorFactory replaces the translator factory, mainly for tests.
func (l *Loader) WithTranslatorFactory(f TranslatorFactory) *Loader {
	l.newTranslator = f
	return l
}

// SetModels replaces the model list used by the next Build.
func (l *Loader) SetModels(models []config.ModelConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.models = models
}

// Build loads codecs and translators for every configured model. On error
// everything opened so far is closed.
func (l *Loader) Build(ctx context.Context) ([]*Entry, error) {
	l.mu.Lock()
	models := append([]config.ModelConfig(nil), l.models...)
	l.mu.Unlock()

	table, err := langpair.FromConfig(models)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]config.ModelConfig, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}

	codecs := make(map[string]subword.Codec)
	loadCodec := func(path string) (subword.Codec, error) {
		if path == "" {
			return subword.Identity{}, nil
		}
		if c, ok := codecs[path]; ok {
			return c, nil
		}
		c, err := subword.LoadBPE(path)
		if err != nil {
			return nil, err
		}
		codecs[path] = c
		return c, nil
	}

	entries := make([]*Entry, 0, len(models))
	fail := func(err error) ([]*Entry, error) {
		for _, e := range entries {
			_ = e.Translator.Close()
		}
		return nil, err
	}

	for _, d := range table.All() {
		m := byID[d.ID]
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		src, err := loadCodec(m.SourceCodes)
		if err != nil {
			return fail(fmt.Errorf("model %d: source codes: %w", m.ID, err))
		}
		tgt, err := loadCodec(m.TargetCodes)
		if err != nil {
			return fail(fmt.Errorf("model %d: target codes: %w", m.ID, err))
		}

		tr, err := l.newTranslator(m, l.logger.With(zap.Int("model_id", m.ID)))
		if err != nil {
			return fail(err)
		}

		entries = append(entries, &Entry{
			Descriptor:  d,
			Translator:  tr,
			SourceCodec: src,
			TargetCodec: tgt,
		})

		l.logger.Debug("Model loaded",
			zap.Int("model_id", m.ID),
			zap.String("pair", d.String()),
			zap.String("mode", m.Mode),
			zap.String("backend", m.Backend))
	}

	return entries, nil
}
