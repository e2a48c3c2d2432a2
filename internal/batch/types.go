package batch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/response"
)

// Record is one input row
type Record struct {
	ID           int    `parquet:"id" json:"id"`
	Src          string `parquet:"src" json:"src"`
	SentenceID   string `parquet:"s_id" json:"s_id"`
	TargetPrefix string `parquet:"target_prefix" json:"target_prefix"`
}

// Output is one line of the results file, written per batch
type Output struct {
	Batch  int64           `json:"batch"`
	Offset int64           `json:"offset"`
	Status response.Status `json:"status"`
	Data   interface{}     `json:"data"`
}

// Result summarises a run
type Result struct {
	TotalRecords   int64         `json:"total_records"`
	RecordsInvalid int64         `json:"records_invalid"`
	Batches        int64         `json:"batches"`
	BatchesOK      int64         `json:"batches_ok"`
	BatchesFailed  int64         `json:"batches_failed"`
	Duration       time.Duration `json:"duration"`
	Errors         []string      `json:"errors,omitempty"`
}

// Config contains batch runner configuration
type Config struct {
	BatchSize      int
	Mode           langpair.Mode
	Timeout        time.Duration // 0 disables
	ProgressReport int           // log every N batches, 0 disables
}

// Format represents supported file formats
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// DetectFormat detects the input format from the file extension
func DetectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return FormatCSV, nil
	case ".json", ".jsonl":
		return FormatJSON, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", ext)
	}
}
