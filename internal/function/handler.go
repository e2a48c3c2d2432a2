// Package function runs the translation pipeline as an AWS Lambda handler.
package function

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

// WarmupSource identifies scheduled keep-warm events
const WarmupSource = "warmup"

// Translator runs a batch in the given mode
type Translator interface {
	Run(ctx context.Context, mode langpair.Mode, items []translate.Item) *response.Envelope
}

// WarmupResponse answers keep-warm events
type WarmupResponse struct {
	Status string `json:"status"`
	Models int    `json:"models"`
}

// Handler decodes invocations and runs them through the pipeline
type Handler struct {
	pipeline Translator
	models   func() int
	logger   *zap.Logger
}

// NewHandler creates a handler. models reports how many models are loaded.
func NewHandler(pipeline Translator, models func() int, logger *zap.Logger) *Handler {
	return &Handler{pipeline: pipeline, models: models, logger: logger}
}

// Handle processes one invocation carrying a translate.Job. Failures are
// reported in the envelope; the returned error is always nil so Lambda does
// not retry the batch.
func (h *Handler) Handle(ctx context.Context, event json.RawMessage) (interface{}, error) {
	if isWarmupEvent(event) {
		return &WarmupResponse{Status: "warm", Models: h.models()}, nil
	}

	start := time.Now()

	job, items, err := translate.DecodeJob(event)
	if err != nil {
		h.logger.Info("Invalid invocation payload", zap.Error(err))
		return response.New(response.InvalidAPIRequest, []interface{}{}).WithWhy(err.Error()), nil
	}

	env := h.pipeline.Run(ctx, job.Mode, items)
	h.logger.Info("Invocation completed",
		zap.String("job_id", job.ID),
		zap.String("mode", string(job.Mode)),
		zap.Int("items", len(items)),
		zap.String("status_kind", string(env.Status.Kind)),
		zap.Duration("duration", time.Since(start)))
	return env, nil
}

func isWarmupEvent(event json.RawMessage) bool {
	var probe struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(event, &probe); err != nil {
		return false
	}
	return probe.Source == WarmupSource
}
