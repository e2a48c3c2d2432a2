package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPTranslator forwards segmented batches to a remote model server.
//
// Request:  {"src": [...], "target_prefix": [...]}
// Response: {"tgt": [...]}
type HTTPTranslator struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

var _ Translator = (*HTTPTranslator)(nil)

type httpRequest struct {
	Src          []string `json:"src"`
	TargetPrefix []string `json:"target_prefix,omitempty"`
}

type httpResponse struct {
	Tgt   []string `json:"tgt"`
	Error string   `json:"error,omitempty"`
}

// NewHTTPTranslator creates a translator for endpoint.
func NewHTTPTranslator(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPTranslator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPTranslator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Translate sends one request per call. No retries are attempted.
func (t *HTTPTranslator) Translate(ctx context.Context, lines []string, constraints []string) ([]string, error) {
	if err := checkConstraints(lines, constraints); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return []string{}, nil
	}

	bodyBytes, err := json.Marshal(httpRequest{Src: lines, TargetPrefix: constraints})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ServerModelError{Backend: "http", Message: "model server unreachable", Err: err}
	}
	defer resp.Body.Close()

	t.logger.Debug("Model server responded",
		zap.String("endpoint", t.endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Int("lines", len(lines)),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ServerModelError{
			Backend:    "http",
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(body)),
		}
	}

	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ServerModelError{Backend: "http", Message: "invalid model server response", Err: err}
	}
	if out.Error != "" {
		return nil, &ServerModelError{Backend: "http", Message: out.Error}
	}
	if len(out.Tgt) != len(lines) {
		return nil, &ServerModelError{
			Backend: "http",
			Message: fmt.Sprintf("translation count mismatch: expected %d, got %d", len(lines), len(out.Tgt)),
		}
	}

	return out.Tgt, nil
}

// Close releases idle connections.
func (t *HTTPTranslator) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
