package translate

import (
	"encoding/json"
	"fmt"

	"github.com/raaihank/nmt-proxy/internal/langpair"
)

// Job is a batch submitted outside HTTP, by the queue worker or the Lambda
// function. Items use the HTTP request item format.
type Job struct {
	ID    string          `json:"id,omitempty"`
	Mode  langpair.Mode   `json:"mode"`
	Items json.RawMessage `json:"items"`
}

// DecodeJob parses a job payload. An empty mode means simple translation.
func DecodeJob(payload []byte) (Job, []Item, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	switch job.Mode {
	case "":
		job.Mode = langpair.Simple
	case langpair.Simple, langpair.Constrained:
	default:
		return job, nil, fmt.Errorf("%w: mode must be simple or constrained", ErrInvalidRequest)
	}

	items, err := ParseBatch(job.Items)
	if err != nil {
		return job, nil, err
	}
	return job, items, nil
}
