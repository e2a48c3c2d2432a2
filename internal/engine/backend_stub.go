//go:build !onnx
// +build !onnx

package engine

import (
	"go.uber.org/zap"
)

// NewONNXTranslator is unavailable when the 'onnx' build tag is not set.
func NewONNXTranslator(modelDir string, logger *zap.Logger) (Translator, error) {
	return nil, ErrBackendUnavailable
}
