//go:build onnx
// +build onnx

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// onnxConfig is the subset of the exported model's config.json we need.
type onnxConfig struct {
	EosTokenID          int64 `json:"eos_token_id"`
	PadTokenID          int64 `json:"pad_token_id"`
	DecoderStartTokenID int64 `json:"decoder_start_token_id"`
	MaxLength           int   `json:"max_length"`
}

func (c *onnxConfig) normalize() {
	if c.MaxLength <= 0 {
		c.MaxLength = 256
	}
	if c.DecoderStartTokenID == 0 {
		c.DecoderStartTokenID = c.PadTokenID
	}
}

// ONNXTranslator runs an exported encoder/decoder pair with greedy decoding.
// The model directory must contain encoder.onnx, decoder.onnx, vocab.json
// and config.json.
type ONNXTranslator struct {
	encoder   *ort.DynamicAdvancedSession
	decoder   *ort.DynamicAdvancedSession
	encOutput string
	decOutput string
	vocab     map[string]int64
	inverse   map[int64]string
	unkID     int64
	config    onnxConfig
	logger    *zap.Logger
	mu        sync.Mutex // sessions are not safe for concurrent Run
	closed    bool
}

var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx runtime environment init failed: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}

// NewONNXTranslator loads the model found in modelDir.
func NewONNXTranslator(modelDir string, logger *zap.Logger) (Translator, error) {
	var cfg onnxConfig
	if err := readJSON(filepath.Join(modelDir, "config.json"), &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	var vocab map[string]int64
	if err := readJSON(filepath.Join(modelDir, "vocab.json"), &vocab); err != nil {
		return nil, err
	}
	inverse := make(map[int64]string, len(vocab))
	for tok, id := range vocab {
		inverse[id] = tok
	}
	unkID, ok := vocab["<unk>"]
	if !ok {
		unkID = cfg.PadTokenID
	}

	if err := acquireEnvironment(); err != nil {
		return nil, err
	}

	encPath := filepath.Join(modelDir, "encoder.onnx")
	decPath := filepath.Join(modelDir, "decoder.onnx")

	encOut, err := firstOutput(encPath)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}
	decOut, err := firstOutput(decPath)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}

	encoder, err := ort.NewDynamicAdvancedSession(encPath,
		[]string{"input_ids", "attention_mask"}, []string{encOut}, nil)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("encoder session creation failed: %w", err)
	}
	decoder, err := ort.NewDynamicAdvancedSession(decPath,
		[]string{"input_ids", "encoder_attention_mask", "encoder_hidden_states"}, []string{decOut}, nil)
	if err != nil {
		encoder.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("decoder session creation failed: %w", err)
	}

	logger.Info("ONNX translator ready",
		zap.String("model_dir", modelDir),
		zap.Int("vocab_size", len(vocab)),
		zap.Int("max_length", cfg.MaxLength))

	return &ONNXTranslator{
		encoder:   encoder,
		decoder:   decoder,
		encOutput: encOut,
		decOutput: decOut,
		vocab:     vocab,
		inverse:   inverse,
		unkID:     unkID,
		config:    cfg,
		logger:    logger,
	}, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func firstOutput(path string) (string, error) {
	_, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", filepath.Base(path), err)
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("%s reports no outputs", filepath.Base(path))
	}
	return outputs[0].Name, nil
}

// Translate decodes each line greedily. Runtime failures are reported as
// ServerModelError.
func (t *ONNXTranslator) Translate(ctx context.Context, lines []string, constraints []string) ([]string, error) {
	if err := checkConstraints(lines, constraints); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, &ServerModelError{Backend: "onnx", Message: "translator closed"}
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var prefix []int64
		if constraints != nil {
			prefix = t.encodeTokens(constraints[i], false)
		}
		ids, err := t.decodeLine(t.encodeTokens(line, true), prefix)
		if err != nil {
			return nil, &ServerModelError{Backend: "onnx", Err: err}
		}
		out[i] = t.detokenize(ids)
	}
	return out, nil
}

func (t *ONNXTranslator) encodeTokens(line string, addEOS bool) []int64 {
	fields := strings.Fields(line)
	ids := make([]int64, 0, len(fields)+1)
	for _, f := range fields {
		if id, ok := t.vocab[f]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, t.unkID)
		}
	}
	if addEOS {
		ids = append(ids, t.config.EosTokenID)
	}
	return ids
}

func (t *ONNXTranslator) detokenize(ids []int64) string {
	toks := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == t.config.EosTokenID || id == t.config.PadTokenID {
			continue
		}
		if tok, ok := t.inverse[id]; ok && !strings.HasPrefix(tok, "<") {
			toks = append(toks, tok)
		}
	}
	return strings.Join(toks, " ")
}

func (t *ONNXTranslator) decodeLine(srcIDs, prefix []int64) ([]int64, error) {
	n := int64(len(srcIDs))
	mask := make([]int64, n)
	for i := range mask {
		mask[i] = 1
	}

	shape := ort.NewShape(1, n)
	idsTensor, err := ort.NewTensor[int64](shape, srcIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	encOutputs := make([]ort.Value, 1)
	if err := t.encoder.Run([]ort.Value{idsTensor, maskTensor}, encOutputs); err != nil {
		return nil, fmt.Errorf("encoder run failed: %w", err)
	}
	defer encOutputs[0].Destroy()

	hidden, ok := encOutputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected encoder output type (want float32 tensor)")
	}

	generated := []int64{t.config.DecoderStartTokenID}
	for step := 0; step < t.config.MaxLength; step++ {
		var next int64
		if step < len(prefix) {
			next = prefix[step]
		} else {
			next, err = t.argmaxNext(generated, maskTensor, hidden)
			if err != nil {
				return nil, err
			}
		}
		generated = append(generated, next)
		if next == t.config.EosTokenID {
			break
		}
	}
	return generated[1:], nil
}

func (t *ONNXTranslator) argmaxNext(generated []int64, encMask *ort.Tensor[int64], hidden *ort.Tensor[float32]) (int64, error) {
	decIDs, err := ort.NewTensor[int64](ort.NewShape(1, int64(len(generated))), generated)
	if err != nil {
		return 0, fmt.Errorf("failed to create decoder input tensor: %w", err)
	}
	defer decIDs.Destroy()

	outputs := make([]ort.Value, 1)
	if err := t.decoder.Run([]ort.Value{decIDs, encMask, hidden}, outputs); err != nil {
		return 0, fmt.Errorf("decoder run failed: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected decoder output type (want float32 tensor)")
	}
	outShape := logits.GetShape()
	if len(outShape) != 3 {
		return 0, fmt.Errorf("unsupported logits shape %v", outShape)
	}
	vocab := int(outShape[2])
	data := logits.GetData()
	last := data[len(data)-vocab:]

	best := 0
	for i := 1; i < vocab; i++ {
		if last[i] > last[best] {
			best = i
		}
	}
	return int64(best), nil
}

// Close releases sessions and, for the last translator, the environment.
func (t *ONNXTranslator) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.encoder.Destroy()
	t.decoder.Destroy()
	releaseEnvironment()
	return nil
}
