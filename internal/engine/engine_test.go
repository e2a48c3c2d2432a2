package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/config"
)

func TestHTTPTranslator(t *testing.T) {
	logger := zap.NewNop()

	t.Run("Success", func(t *testing.T) {
		var got httpRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode request: %v", err)
			}
			out := httpResponse{}
			for i, s := range got.Src {
				tgt := "T(" + s + ")"
				if got.TargetPrefix != nil {
					tgt = got.TargetPrefix[i] + " " + tgt
				}
				out.Tgt = append(out.Tgt, tgt)
			}
			_ = json.NewEncoder(w).Encode(out)
		}))
		defer srv.Close()

		tr := NewHTTPTranslator(srv.URL, time.Second, logger)
		defer tr.Close()

		out, err := tr.Translate(context.Background(), []string{"a", "b"}, nil)
		if err != nil {
			t.Fatalf("Translate failed: %v", err)
		}
		if len(out) != 2 || out[0] != "T(a)" || out[1] != "T(b)" {
			t.Errorf("unexpected output: %v", out)
		}
		if got.TargetPrefix != nil {
			t.Errorf("target_prefix should be omitted, got %v", got.TargetPrefix)
		}

		out, err = tr.Translate(context.Background(), []string{"a"}, []string{"bon"})
		if err != nil {
			t.Fatalf("constrained Translate failed: %v", err)
		}
		if out[0] != "bon T(a)" {
			t.Errorf("unexpected constrained output: %v", out)
		}
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := NewHTTPTranslator(srv.URL, time.Second, logger).Translate(context.Background(), []string{"a"}, nil)
		if !IsServerModelError(err) {
			t.Fatalf("expected ServerModelError, got %v", err)
		}
		var sme *ServerModelError
		errors.As(err, &sme)
		if sme.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", sme.StatusCode)
		}
		if !strings.Contains(err.Error(), "CUDA out of memory") {
			t.Errorf("error should carry server message: %v", err)
		}
	})

	t.Run("CountMismatch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(httpResponse{Tgt: []string{"only one"}})
		}))
		defer srv.Close()

		_, err := NewHTTPTranslator(srv.URL, time.Second, logger).Translate(context.Background(), []string{"a", "b"}, nil)
		if !IsServerModelError(err) {
			t.Fatalf("expected ServerModelError, got %v", err)
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := NewHTTPTranslator(url, time.Second, logger).Translate(context.Background(), []string{"a"}, nil)
		if !IsServerModelError(err) {
			t.Fatalf("expected ServerModelError, got %v", err)
		}
	})

	t.Run("ConstraintLengthMismatch", func(t *testing.T) {
		tr := NewHTTPTranslator("http://unused", time.Second, logger)
		_, err := tr.Translate(context.Background(), []string{"a", "b"}, []string{"x"})
		if err == nil || IsServerModelError(err) {
			t.Fatalf("expected plain argument error, got %v", err)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		tr := NewHTTPTranslator("http://unused", time.Second, logger)
		out, err := tr.Translate(context.Background(), nil, nil)
		if err != nil || len(out) != 0 {
			t.Fatalf("expected empty output, got %v, %v", out, err)
		}
	})
}

func TestNewTranslator(t *testing.T) {
	logger := zap.NewNop()

	tr, err := NewTranslator(config.ModelConfig{ID: 100, Backend: "http", Endpoint: "http://model"}, logger)
	if err != nil {
		t.Fatalf("NewTranslator(http) failed: %v", err)
	}
	if _, ok := tr.(*HTTPTranslator); !ok {
		t.Errorf("expected *HTTPTranslator, got %T", tr)
	}

	if _, err := NewTranslator(config.ModelConfig{ID: 100, Backend: "http"}, logger); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewTranslator(config.ModelConfig{ID: 100, Backend: "lambda"}, logger); err == nil {
		t.Error("expected error for missing function name")
	}
	if _, err := NewTranslator(config.ModelConfig{ID: 100, Backend: "grpc"}, logger); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestServerModelErrorMessage(t *testing.T) {
	err := &ServerModelError{Backend: "http", StatusCode: 503, Message: "overloaded"}
	if err.Error() != "http model server error (status 503): overloaded" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	wrapped := &ServerModelError{Backend: "onnx", Err: errors.New("decoder run failed")}
	if wrapped.Error() != "onnx model server error: decoder run failed" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
	if !errors.Is(wrapped, wrapped.Err) {
		t.Error("Unwrap should expose the cause")
	}
}

type fakeInvoker struct {
	payload  []byte
	funcErr  *string
	err      error
	received []byte
	function string
}

func (f *fakeInvoker) Invoke(ctx context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.received = in.Payload
	f.function = *in.FunctionName
	if f.err != nil {
		return nil, f.err
	}
	return &lambda.InvokeOutput{StatusCode: 200, Payload: f.payload, FunctionError: f.funcErr}, nil
}

func TestLambdaTranslator(t *testing.T) {
	logger := zap.NewNop()

	t.Run("Success", func(t *testing.T) {
		inv := &fakeInvoker{payload: []byte(`{"tgt":["good morning"]}`)}
		tr := NewLambdaTranslatorWithClient(inv, "nmt-hi-en", time.Second, logger)

		out, err := tr.Translate(context.Background(), []string{"su@@ prabhat"}, []string{"good"})
		if err != nil {
			t.Fatalf("Translate failed: %v", err)
		}
		if len(out) != 1 || out[0] != "good morning" {
			t.Errorf("unexpected output %v", out)
		}
		if inv.function != "nmt-hi-en" {
			t.Errorf("invoked %q", inv.function)
		}
		var sent httpRequest
		if err := json.Unmarshal(inv.received, &sent); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if len(sent.TargetPrefix) != 1 || sent.TargetPrefix[0] != "good" {
			t.Errorf("constraints not forwarded: %+v", sent)
		}
	})

	t.Run("FunctionError", func(t *testing.T) {
		unhandled := "Unhandled"
		inv := &fakeInvoker{payload: []byte(`{"errorMessage":"killed"}`), funcErr: &unhandled}
		_, err := NewLambdaTranslatorWithClient(inv, "fn", time.Second, logger).Translate(context.Background(), []string{"a"}, nil)
		if !IsServerModelError(err) {
			t.Fatalf("expected ServerModelError, got %v", err)
		}
	})

	t.Run("InvokeError", func(t *testing.T) {
		inv := &fakeInvoker{err: errors.New("throttled")}
		_, err := NewLambdaTranslatorWithClient(inv, "fn", time.Second, logger).Translate(context.Background(), []string{"a"}, nil)
		if !IsServerModelError(err) {
			t.Fatalf("expected ServerModelError, got %v", err)
		}
	})

	t.Run("ErrorField", func(t *testing.T) {
		inv := &fakeInvoker{payload: []byte(`{"error":"model not loaded"}`)}
		_, err := NewLambdaTranslatorWithClient(inv, "fn", time.Second, logger).Translate(context.Background(), []string{"a"}, nil)
		if !IsServerModelError(err) || !strings.Contains(err.Error(), "model not loaded") {
			t.Fatalf("expected ServerModelError carrying message, got %v", err)
		}
	})
}
