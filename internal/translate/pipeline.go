// Package translate runs translation batches through preprocessing, subword
// encoding, the model and postprocessing, and assembles the response
// envelope.
package translate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/cache"
	"github.com/raaihank/nmt-proxy/internal/engine"
	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/registry"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/sentence"
)

// ErrMissingTargetPrefix is returned for constrained items without a prefix.
var ErrMissingTargetPrefix = errors.New("target_prefix is required for interactive translation")

// UnsupportedModelError reports an id that no model of the requested mode
// serves.
type UnsupportedModelError struct {
	ID string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("Unsupported Model ID - id: %s for given input", e.ID)
}

// Result is the per-item output of a successful batch.
type Result struct {
	Tgt        string `json:"tgt"`
	TaggedTgt  string `json:"tagged_tgt"`
	TaggedSrc  string `json:"tagged_src"`
	SentenceID string `json:"s_id"`
	Src        string `json:"src"`
}

// Models resolves model ids to loaded entries.
type Models interface {
	Get(id int) (*registry.Entry, error)
}

// Cache stores final translations. Implementations must treat their own
// failures as misses.
type Cache interface {
	Lookup(ctx context.Context, key cache.Key) (string, bool)
	Store(ctx context.Context, key cache.Key, tgt string) error
}

// Pipeline translates batches against a model registry.
type Pipeline struct {
	models Models
	cache  Cache
	logger *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCache enables the translation cache.
func WithCache(c Cache) Option {
	return func(p *Pipeline) {
		p.cache = c
	}
}

// New creates a pipeline.
func New(models Models, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{models: models, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Translate runs unconstrained translation.
func (p *Pipeline) Translate(ctx context.Context, items []Item) *response.Envelope {
	return p.Run(ctx, langpair.Simple, items)
}

// InteractiveTranslate runs prefix-constrained translation.
func (p *Pipeline) InteractiveTranslate(ctx context.Context, items []Item) *response.Envelope {
	return p.Run(ctx, langpair.Constrained, items)
}

// Run processes items in order. The batch either succeeds as a whole or the
// envelope echoes the original items.
func (p *Pipeline) Run(ctx context.Context, mode langpair.Mode, items []Item) *response.Envelope {
	start := time.Now()
	results := make([]Result, 0, len(items))

	for i, it := range items {
		if !it.HasID() || !it.HasSrc() {
			p.logger.Info("Either id or src missing in some input",
				zap.String("mode", string(mode)),
				zap.Int("index", i))
			return response.New(response.IDOrSrcMissing, items)
		}

		res, err := p.translateItem(ctx, mode, it)
		if err != nil {
			return p.fail(mode, items, err)
		}
		results = append(results, res)
	}

	p.logger.Info("Batch translated",
		zap.String("mode", string(mode)),
		zap.Int("items", len(items)),
		zap.Duration("duration", time.Since(start)))

	return response.OK(results)
}

func (p *Pipeline) translateItem(ctx context.Context, mode langpair.Mode, it Item) (Result, error) {
	if it.ID == nil {
		return Result{}, &UnsupportedModelError{ID: it.RawID()}
	}
	if it.Src == nil {
		return Result{}, fmt.Errorf("src must be a string")
	}

	entry, err := p.models.Get(*it.ID)
	if errors.Is(err, registry.ErrModelNotFound) || (err == nil && entry.Descriptor.Mode != mode) {
		p.logger.Info("Unsupported model id for given input", zap.Int("model_id", *it.ID), zap.String("mode", string(mode)))
		return Result{}, &UnsupportedModelError{ID: it.RawID()}
	}
	if err != nil {
		return Result{}, err
	}

	var prefix string
	if mode == langpair.Constrained {
		if it.TargetPrefix == nil {
			return Result{}, ErrMissingTargetPrefix
		}
		prefix = *it.TargetPrefix
	}

	log := p.logger.With(zap.Int("model_id", *it.ID), zap.String("pair", entry.Descriptor.String()))
	log.Debug("Input sentence", zap.String("src", *it.Src))

	key := cache.Key{
		Revision:     entry.Revision,
		ModelID:      entry.Descriptor.ID,
		Mode:         mode,
		Src:          *it.Src,
		TargetPrefix: prefix,
	}
	if p.cache != nil {
		if tgt, ok := p.cache.Lookup(ctx, key); ok {
			return newResult(it, tgt), nil
		}
	}

	tgt, err := p.encodeTranslateDecode(ctx, entry, mode, *it.Src, prefix, log)
	if err != nil {
		return Result{}, err
	}
	log.Debug("Translation output", zap.String("tgt", tgt))

	if p.cache != nil {
		_ = p.cache.Store(ctx, key, tgt)
	}
	return newResult(it, tgt), nil
}

func (p *Pipeline) encodeTranslateDecode(ctx context.Context, entry *registry.Entry, mode langpair.Mode, src, prefix string, log *zap.Logger) (string, error) {
	d := entry.Descriptor

	lines := sentence.Preprocess([]string{src}, d.SourceLang)
	lines = entry.SourceCodec.Encode(lines)
	log.Debug("Subword encoded sentence", zap.Strings("src", lines))
	lines = sentence.ApplyLangTags(lines, d.SourceLang, d.TargetLang)

	var constraints []string
	if mode == langpair.Constrained {
		constraints = entry.TargetCodec.Encode([]string{prefix})
	}

	out, err := entry.Translator.Translate(ctx, lines, constraints)
	if err != nil {
		log.Error("Model invocation failed", zap.Error(err))
		return "", err
	}
	if len(out) != len(lines) {
		return "", fmt.Errorf("model returned %d outputs for %d inputs", len(out), len(lines))
	}

	return sentence.Postprocess(out, d.TargetLang)[0], nil
}

func newResult(it Item, tgt string) Result {
	return Result{
		Tgt:        tgt,
		TaggedTgt:  tgt,
		TaggedSrc:  *it.Src,
		SentenceID: it.SentenceID,
		Src:        *it.Src,
	}
}

// fail converts an item error into the batch envelope. In interactive mode
// model runtime failures get their own kind and the error replaces the
// message; in simple mode everything is a system error with the cause in why.
func (p *Pipeline) fail(mode langpair.Mode, items []Item, err error) *response.Envelope {
	if mode == langpair.Constrained {
		kind := response.SystemErr
		if engine.IsServerModelError(err) {
			kind = response.ServerModelErr
		}
		p.logger.Error("Interactive translation failed", zap.String("kind", string(kind)), zap.Error(err))
		return response.New(kind, items).WithMessage(err.Error())
	}

	p.logger.Error("Translation failed", zap.Error(err))
	return response.New(response.SystemErr, items).WithWhy(err.Error())
}
