package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"
)

// LambdaInvoker is the part of the Lambda client the backend needs.
type LambdaInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaTranslator invokes a translator function that speaks the same
// payload as the HTTP backend.
type LambdaTranslator struct {
	function string
	client   LambdaInvoker
	timeout  time.Duration
	logger   *zap.Logger
}

var _ Translator = (*LambdaTranslator)(nil)

// NewLambdaTranslator loads the default AWS configuration and creates a
// translator for function.
func NewLambdaTranslator(ctx context.Context, function string, timeout time.Duration, logger *zap.Logger) (*LambdaTranslator, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewLambdaTranslatorWithClient(lambda.NewFromConfig(cfg), function, timeout, logger), nil
}

// NewLambdaTranslatorWithClient uses an existing client.
func NewLambdaTranslatorWithClient(client LambdaInvoker, function string, timeout time.Duration, logger *zap.Logger) *LambdaTranslator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LambdaTranslator{
		function: function,
		client:   client,
		timeout:  timeout,
		logger:   logger,
	}
}

// Translate invokes the function synchronously.
func (t *LambdaTranslator) Translate(ctx context.Context, lines []string, constraints []string) ([]string, error) {
	if err := checkConstraints(lines, constraints); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return []string{}, nil
	}

	payload, err := json.Marshal(httpRequest{Src: lines, TargetPrefix: constraints})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	function := t.function
	start := time.Now()
	result, err := t.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: &function,
		Payload:      payload,
	})
	if err != nil {
		return nil, &ServerModelError{Backend: "lambda", Message: "failed to invoke " + function, Err: err}
	}

	t.logger.Debug("Translator function returned",
		zap.String("function", function),
		zap.Int32("status", result.StatusCode),
		zap.Int("lines", len(lines)),
		zap.Duration("duration", time.Since(start)))

	if result.FunctionError != nil {
		return nil, &ServerModelError{
			Backend:    "lambda",
			StatusCode: int(result.StatusCode),
			Message:    *result.FunctionError + ": " + string(result.Payload),
		}
	}

	var out httpResponse
	if err := json.Unmarshal(result.Payload, &out); err != nil {
		return nil, &ServerModelError{Backend: "lambda", Message: "invalid function response", Err: err}
	}
	if out.Error != "" {
		return nil, &ServerModelError{Backend: "lambda", Message: out.Error}
	}
	if len(out.Tgt) != len(lines) {
		return nil, &ServerModelError{
			Backend: "lambda",
			Message: fmt.Sprintf("translation count mismatch: expected %d, got %d", len(lines), len(out.Tgt)),
		}
	}
	return out.Tgt, nil
}

// Close is a no-op; the SDK client holds no per-translator resources.
func (t *LambdaTranslator) Close() error {
	return nil
}
