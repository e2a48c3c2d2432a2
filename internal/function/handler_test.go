package function

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

type recordingPipeline struct {
	mode  langpair.Mode
	items []translate.Item
}

func (p *recordingPipeline) Run(ctx context.Context, mode langpair.Mode, items []translate.Item) *response.Envelope {
	p.mode = mode
	p.items = items
	return response.OK([]translate.Result{})
}

func TestHandle(t *testing.T) {
	pipeline := &recordingPipeline{}
	h := NewHandler(pipeline, func() int { return 6 }, zap.NewNop())

	tests := []struct {
		name     string
		event    string
		wantKind response.Kind
		wantMode langpair.Mode
	}{
		{"DefaultMode", `{"items":[{"id":100,"src":"a"}]}`, response.Success, langpair.Simple},
		{"Constrained", `{"mode":"constrained","items":[{"id":103,"src":"a","target_prefix":"b"}]}`, response.Success, langpair.Constrained},
		{"BadMode", `{"mode":"fast","items":[{"id":100,"src":"a"}]}`, response.InvalidAPIRequest, ""},
		{"EmptyItems", `{"items":[]}`, response.InvalidAPIRequest, ""},
		{"MissingItems", `{}`, response.InvalidAPIRequest, ""},
		{"NotObject", `[1]`, response.InvalidAPIRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline.mode = ""
			out, err := h.Handle(context.Background(), json.RawMessage(tt.event))
			if err != nil {
				t.Fatalf("Handle returned error: %v", err)
			}
			env, ok := out.(*response.Envelope)
			if !ok {
				t.Fatalf("expected envelope, got %T", out)
			}
			if env.Status.Kind != tt.wantKind {
				t.Errorf("expected %s, got %+v", tt.wantKind, env.Status)
			}
			if pipeline.mode != tt.wantMode {
				t.Errorf("expected pipeline mode %q, got %q", tt.wantMode, pipeline.mode)
			}
		})
	}
}

func TestHandleWarmup(t *testing.T) {
	pipeline := &recordingPipeline{}
	h := NewHandler(pipeline, func() int { return 6 }, zap.NewNop())

	out, err := h.Handle(context.Background(), json.RawMessage(`{"source":"warmup"}`))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	warm, ok := out.(*WarmupResponse)
	if !ok || warm.Status != "warm" || warm.Models != 6 {
		t.Errorf("unexpected warmup response %#v", out)
	}
	if pipeline.items != nil {
		t.Error("warmup reached the pipeline")
	}
}
