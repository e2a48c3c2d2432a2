package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

// upperPipeline fails batches containing "fail" and echoes sources otherwise
type upperPipeline struct {
	batches [][]translate.Item
	modes   []langpair.Mode
}

func (p *upperPipeline) Run(ctx context.Context, mode langpair.Mode, items []translate.Item) *response.Envelope {
	p.batches = append(p.batches, items)
	p.modes = append(p.modes, mode)

	results := make([]translate.Result, 0, len(items))
	for _, it := range items {
		if *it.Src == "fail" {
			return response.New(response.SystemErr, items).WithWhy("model down")
		}
		results = append(results, translate.Result{Tgt: strings.ToUpper(*it.Src), Src: *it.Src, SentenceID: it.SentenceID})
	}
	return response.OK(results)
}

func readOutputs(t *testing.T, out *bytes.Buffer) []Output {
	t.Helper()
	var outputs []Output
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var o Output
		if err := json.Unmarshal(scanner.Bytes(), &o); err != nil {
			t.Fatalf("invalid output line %q: %v", scanner.Text(), err)
		}
		outputs = append(outputs, o)
	}
	return outputs
}

func TestProcessCSV(t *testing.T) {
	pipeline := &upperPipeline{}
	runner := NewRunner(pipeline, &Config{BatchSize: 2}, zap.NewNop())

	input := "id,src,s_id\n" +
		"100,one,a\n" +
		"100,two,b\n" +
		"x,bad id,c\n" +
		"101,three,\n" +
		"102,,empty\n"

	var out bytes.Buffer
	result, err := runner.ProcessCSV(context.Background(), strings.NewReader(input), &out)
	if err != nil {
		t.Fatalf("ProcessCSV failed: %v", err)
	}

	if result.TotalRecords != 3 || result.RecordsInvalid != 2 {
		t.Errorf("unexpected counts %+v", result)
	}
	if result.Batches != 2 || result.BatchesOK != 2 || result.BatchesFailed != 0 {
		t.Errorf("unexpected batch counts %+v", result)
	}
	if len(pipeline.batches) != 2 || len(pipeline.batches[0]) != 2 || len(pipeline.batches[1]) != 1 {
		t.Fatalf("unexpected batching %v", pipeline.batches)
	}
	if pipeline.modes[0] != langpair.Simple {
		t.Errorf("expected default simple mode, got %s", pipeline.modes[0])
	}
	if pipeline.batches[1][0].SentenceID != translate.DefaultSentenceID {
		t.Errorf("empty s_id should default, got %q", pipeline.batches[1][0].SentenceID)
	}

	outputs := readOutputs(t, &out)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 output lines, got %d", len(outputs))
	}
	if outputs[1].Batch != 2 || outputs[1].Offset != 2 || outputs[1].Status.Kind != response.Success {
		t.Errorf("unexpected second output %+v", outputs[1])
	}
}

func TestProcessCSVMissingColumn(t *testing.T) {
	runner := NewRunner(&upperPipeline{}, &Config{BatchSize: 2}, zap.NewNop())
	_, err := runner.ProcessCSV(context.Background(), strings.NewReader("id,text\n100,a\n"), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for missing src column")
	}
}

func TestProcessJSON(t *testing.T) {
	pipeline := &upperPipeline{}
	runner := NewRunner(pipeline, &Config{BatchSize: 10, Mode: langpair.Constrained}, zap.NewNop())

	input := `{"id":103,"src":"one","target_prefix":"x"}
{"src":"no id"}
{"id":103,"src":"fail"}
`
	var out bytes.Buffer
	result, err := runner.ProcessJSON(context.Background(), strings.NewReader(input), &out)
	if err != nil {
		t.Fatalf("ProcessJSON failed: %v", err)
	}

	if result.TotalRecords != 2 || result.RecordsInvalid != 1 {
		t.Errorf("unexpected counts %+v", result)
	}
	if result.BatchesFailed != 1 || result.BatchesOK != 0 || len(result.Errors) != 1 {
		t.Errorf("unexpected batch counts %+v", result)
	}
	if !strings.Contains(result.Errors[0], "SYSTEM_ERR") || !strings.Contains(result.Errors[0], "model down") {
		t.Errorf("unexpected error summary %q", result.Errors[0])
	}
	if pipeline.modes[0] != langpair.Constrained {
		t.Errorf("expected constrained mode, got %s", pipeline.modes[0])
	}
	if p := pipeline.batches[0][0].TargetPrefix; p == nil || *p != "x" {
		t.Errorf("target_prefix not decoded: %v", p)
	}

	outputs := readOutputs(t, &out)
	if len(outputs) != 1 || outputs[0].Status.Kind != response.SystemErr {
		t.Errorf("unexpected outputs %+v", outputs)
	}
}

func TestProcessJSONSyntaxError(t *testing.T) {
	runner := NewRunner(&upperPipeline{}, &Config{BatchSize: 10}, zap.NewNop())
	_, err := runner.ProcessJSON(context.Background(), strings.NewReader(`{"id":100,"src":"a"`+"\n"+`{`), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestProcessParquetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.parquet")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	writer := parquet.NewWriter(file)
	for _, rec := range []Record{
		{ID: 100, Src: "one", SentenceID: "1"},
		{ID: 101, Src: "two", SentenceID: "2"},
		{ID: 102, Src: "", SentenceID: "3"},
	} {
		if err := writer.Write(rec); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer failed: %v", err)
	}
	file.Close()

	pipeline := &upperPipeline{}
	runner := NewRunner(pipeline, &Config{BatchSize: 5}, zap.NewNop())

	var out bytes.Buffer
	result, err := runner.ProcessFile(context.Background(), path, &out)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.TotalRecords != 2 || result.RecordsInvalid != 1 || result.BatchesOK != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	if got := pipeline.batches[0][1]; *got.ID != 101 || *got.Src != "two" || got.SentenceID != "2" {
		t.Errorf("unexpected item %+v", got)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"data.csv", FormatCSV},
		{"data.JSON", FormatJSON},
		{"data.jsonl", FormatJSON},
		{"dir/data.parquet", FormatParquet},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if err != nil || got != tt.want {
			t.Errorf("DetectFormat(%q) = %q, %v; want %q", tt.path, got, err, tt.want)
		}
	}
	if _, err := DetectFormat("data.txt"); err == nil {
		t.Error("expected error for .txt")
	}
}

func TestContextCancelled(t *testing.T) {
	runner := NewRunner(&upperPipeline{}, &Config{BatchSize: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.ProcessCSV(ctx, strings.NewReader("id,src\n100,a\n"), &bytes.Buffer{})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
