package translate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultSentenceID is used when an item carries no s_id.
const DefaultSentenceID = "NA"

var (
	// ErrInvalidRequest reports a body that is not a JSON array of objects.
	ErrInvalidRequest = errors.New("request body must be a JSON array of objects")
	// ErrEmptyBatch reports an empty array.
	ErrEmptyBatch = errors.New("request batch is empty")
)

// Item is one element of a translation batch. The raw JSON is kept so error
// responses can echo the caller's input unchanged.
type Item struct {
	ID           *int
	Src          *string
	SentenceID   string
	TargetPrefix *string

	hasID  bool
	hasSrc bool
	rawID  string
	raw    json.RawMessage
}

// NewItem builds an item as if it had been decoded from JSON.
func NewItem(id int, src, sentenceID, targetPrefix string) Item {
	fields := map[string]interface{}{"id": id, "src": src}
	if sentenceID != "" {
		fields["s_id"] = sentenceID
	}
	if targetPrefix != "" {
		fields["target_prefix"] = targetPrefix
	}
	raw, _ := json.Marshal(fields)

	var it Item
	_ = it.UnmarshalJSON(raw)
	return it
}

// HasID reports whether the "id" key was present.
func (it Item) HasID() bool { return it.hasID }

// HasSrc reports whether the "src" key was present.
func (it Item) HasSrc() bool { return it.hasSrc }

// RawID is the JSON text of the id as supplied.
func (it Item) RawID() string { return it.rawID }

// UnmarshalJSON records which keys are present and their typed values.
// Values of the wrong type stay nil and are rejected during translation.
func (it *Item) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	*it = Item{SentenceID: DefaultSentenceID, raw: append(json.RawMessage(nil), b...)}

	if v, ok := fields["id"]; ok {
		it.hasID = true
		it.rawID = string(v)
		var id int
		if json.Unmarshal(v, &id) == nil && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			it.ID = &id
		}
	}
	if v, ok := fields["src"]; ok {
		it.hasSrc = true
		var s string
		if json.Unmarshal(v, &s) == nil && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			it.Src = &s
		}
	}
	if v, ok := fields["s_id"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			if s != "" {
				it.SentenceID = s
			}
		} else if t := strings.TrimSpace(string(v)); t != "null" && t != "" {
			it.SentenceID = t
		}
	}
	if v, ok := fields["target_prefix"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			it.TargetPrefix = &s
		}
	}
	return nil
}

// MarshalJSON returns the original input.
func (it Item) MarshalJSON() ([]byte, error) {
	if it.raw != nil {
		return it.raw, nil
	}
	return []byte("{}"), nil
}

// ParseBatch decodes a request body into items.
func ParseBatch(body []byte) ([]Item, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(raws) == 0 {
		return nil, ErrEmptyBatch
	}

	items := make([]Item, len(raws))
	for i, raw := range raws {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrInvalidRequest, i)
		}
		if err := items[i].UnmarshalJSON(trimmed); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidRequest, i, err)
		}
	}
	return items, nil
}
