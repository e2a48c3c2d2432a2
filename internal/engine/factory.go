package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/config"
)

// BackendType names a model runtime implementation
type BackendType string

const (
	// HTTPBackend calls a model server over HTTP
	HTTPBackend BackendType = "http"
	// ONNXBackend runs encoder/decoder graphs in-process (build tag 'onnx')
	ONNXBackend BackendType = "onnx"
	// LambdaBackend invokes an AWS Lambda translator function
	LambdaBackend BackendType = "lambda"
)

// NewTranslator creates a translator for one configured model.
func NewTranslator(cfg config.ModelConfig, logger *zap.Logger) (Translator, error) {
	switch BackendType(cfg.Backend) {
	case HTTPBackend:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("model %d: endpoint is required for http backend", cfg.ID)
		}
		return NewHTTPTranslator(cfg.Endpoint, cfg.Timeout, logger), nil
	case ONNXBackend:
		t, err := NewONNXTranslator(cfg.ModelDir, logger)
		if err != nil {
			return nil, fmt.Errorf("model %d: %w", cfg.ID, err)
		}
		return t, nil
	case LambdaBackend:
		if cfg.Function == "" {
			return nil, fmt.Errorf("model %d: function is required for lambda backend", cfg.ID)
		}
		t, err := NewLambdaTranslator(context.Background(), cfg.Function, cfg.Timeout, logger)
		if err != nil {
			return nil, fmt.Errorf("model %d: %w", cfg.ID, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("model %d: unknown backend type: %s", cfg.ID, cfg.Backend)
	}
}
