// Package batch translates files of records offline through the same
// pipeline the HTTP endpoints use.
package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

// Translator runs a batch in the given mode
type Translator interface {
	Run(ctx context.Context, mode langpair.Mode, items []translate.Item) *response.Envelope
}

// errInvalidRecord marks a row that is skipped and counted, not fatal
var errInvalidRecord = errors.New("invalid record")

// nextFunc returns the next item, io.EOF at the end, or an error wrapping
// errInvalidRecord for rows to skip.
type nextFunc func() (translate.Item, error)

// Runner reads records, translates them in batches and writes one output
// line per batch
type Runner struct {
	pipeline Translator
	config   *Config
	logger   *zap.Logger
}

// NewRunner creates a new batch runner
func NewRunner(pipeline Translator, config *Config, logger *zap.Logger) *Runner {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Mode == "" {
		config.Mode = langpair.Simple
	}
	return &Runner{pipeline: pipeline, config: config, logger: logger}
}

// ProcessFile processes a dataset file (CSV, JSON lines or Parquet)
func (r *Runner) ProcessFile(ctx context.Context, path string, out io.Writer) (*Result, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	r.logger.Info("Starting batch translation",
		zap.String("file", path),
		zap.String("format", string(format)),
		zap.String("mode", string(r.config.Mode)),
		zap.Int("batch_size", r.config.BatchSize))

	switch format {
	case FormatCSV:
		return r.ProcessCSV(ctx, file, out)
	case FormatJSON:
		return r.ProcessJSON(ctx, file, out)
	default:
		return r.ProcessParquet(ctx, file, out)
	}
}

// ProcessCSV reads a CSV file with a header row naming id, src and
// optionally s_id and target_prefix
func (r *Runner) ProcessCSV(ctx context.Context, in io.Reader, out io.Writer) (*Result, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "src"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("CSV header is missing column %q", required)
		}
	}
	r.logger.Info("CSV header detected", zap.Strings("columns", header))

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	return r.run(ctx, func() (translate.Item, error) {
		row, err := reader.Read()
		if err == io.EOF {
			return translate.Item{}, io.EOF
		}
		if err != nil {
			return translate.Item{}, fmt.Errorf("%w: %v", errInvalidRecord, err)
		}

		id, err := strconv.Atoi(strings.TrimSpace(field(row, "id")))
		if err != nil {
			return translate.Item{}, fmt.Errorf("%w: id %q", errInvalidRecord, field(row, "id"))
		}
		return recordItem(Record{
			ID:           id,
			Src:          field(row, "src"),
			SentenceID:   field(row, "s_id"),
			TargetPrefix: field(row, "target_prefix"),
		})
	}, out)
}

// ProcessJSON reads one JSON object per line. Objects are decoded like API
// request items.
func (r *Runner) ProcessJSON(ctx context.Context, in io.Reader, out io.Writer) (*Result, error) {
	decoder := json.NewDecoder(in)

	return r.run(ctx, func() (translate.Item, error) {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err == io.EOF {
			return translate.Item{}, io.EOF
		} else if err != nil {
			// the decoder cannot resync after a syntax error
			return translate.Item{}, fmt.Errorf("failed to decode JSON record: %w", err)
		}

		var item translate.Item
		if err := item.UnmarshalJSON(raw); err != nil {
			return translate.Item{}, fmt.Errorf("%w: %v", errInvalidRecord, err)
		}
		if item.ID == nil || item.Src == nil {
			return translate.Item{}, fmt.Errorf("%w: id and src are required", errInvalidRecord)
		}
		return item, nil
	}, out)
}

// ProcessParquet reads rows with the Record schema
func (r *Runner) ProcessParquet(ctx context.Context, in io.ReaderAt, out io.Writer) (*Result, error) {
	reader := parquet.NewReader(in)
	defer reader.Close()

	return r.run(ctx, func() (translate.Item, error) {
		var record Record
		if err := reader.Read(&record); err == io.EOF {
			return translate.Item{}, io.EOF
		} else if err != nil {
			return translate.Item{}, fmt.Errorf("failed to read Parquet record: %w", err)
		}
		return recordItem(record)
	}, out)
}

func recordItem(rec Record) (translate.Item, error) {
	if rec.Src == "" {
		return translate.Item{}, fmt.Errorf("%w: empty src for id %d", errInvalidRecord, rec.ID)
	}
	return translate.NewItem(rec.ID, rec.Src, rec.SentenceID, rec.TargetPrefix), nil
}

// run groups items into batches and translates them in order
func (r *Runner) run(ctx context.Context, next nextFunc, out io.Writer) (*Result, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := &Result{}
	encoder := json.NewEncoder(out)

	for {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		batch, err := r.readBatch(next, result)
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		offset := result.TotalRecords
		result.TotalRecords += int64(len(batch))
		result.Batches++

		env := r.pipeline.Run(ctx, r.config.Mode, batch)
		if env.Status.OK() {
			result.BatchesOK++
		} else {
			result.BatchesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("batch %d: %s: %s", result.Batches, env.Status.Kind, batchWhy(env.Status)))
			r.logger.Warn("Batch failed",
				zap.Int64("batch", result.Batches),
				zap.String("kind", string(env.Status.Kind)),
				zap.String("why", batchWhy(env.Status)))
		}

		if err := encoder.Encode(Output{
			Batch:  result.Batches,
			Offset: offset,
			Status: env.Status,
			Data:   env.Data,
		}); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("failed to write batch output: %w", err)
		}

		if r.config.ProgressReport > 0 && result.Batches%int64(r.config.ProgressReport) == 0 {
			r.reportProgress(result, start)
		}
	}

	result.Duration = time.Since(start)
	r.logger.Info("Batch translation completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("records_invalid", result.RecordsInvalid),
		zap.Int64("batches_ok", result.BatchesOK),
		zap.Int64("batches_failed", result.BatchesFailed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// readBatch collects up to BatchSize valid items, skipping invalid rows
func (r *Runner) readBatch(next nextFunc, result *Result) ([]translate.Item, error) {
	batch := make([]translate.Item, 0, r.config.BatchSize)
	for len(batch) < r.config.BatchSize {
		item, err := next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, errInvalidRecord) {
			result.RecordsInvalid++
			r.logger.Warn("Skipping invalid record", zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, item)
	}
	return batch, nil
}

func (r *Runner) reportProgress(result *Result, start time.Time) {
	elapsed := time.Since(start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(result.TotalRecords) / elapsed
	}
	r.logger.Info("Batch progress",
		zap.Int64("batches", result.Batches),
		zap.Int64("records", result.TotalRecords),
		zap.Float64("records_per_second", rate))
}

func batchWhy(s response.Status) string {
	if s.Why != "" {
		return s.Why
	}
	return s.Message
}
