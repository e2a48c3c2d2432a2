// Package langpair maps numeric model identifiers to the language pair and
// decoding mode they serve.
package langpair

import (
	"fmt"
	"sort"

	"github.com/raaihank/nmt-proxy/internal/config"
)

// Mode selects how a model is driven.
type Mode string

const (
	// Simple runs unconstrained translation.
	Simple Mode = "simple"
	// Constrained forces the output to continue a target-side prefix.
	Constrained Mode = "constrained"
)

// Descriptor describes what a model identifier serves.
type Descriptor struct {
	ID         int    `json:"id"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Mode       Mode   `json:"mode"`
}

// String renders the pair as "hi-en".
func (d Descriptor) String() string {
	return d.SourceLang + "-" + d.TargetLang
}

// Table is an immutable id -> descriptor lookup.
type Table struct {
	byID map[int]Descriptor
}

// NewTable builds a table from descriptors, rejecting duplicate ids.
func NewTable(descriptors ...Descriptor) (*Table, error) {
	t := &Table{byID: make(map[int]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, dup := t.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %d", d.ID)
		}
		if d.Mode != Simple && d.Mode != Constrained {
			return nil, fmt.Errorf("model id %d: unknown mode %q", d.ID, d.Mode)
		}
		t.byID[d.ID] = d
	}
	return t, nil
}

// FromConfig builds a table from the configured model list.
func FromConfig(models []config.ModelConfig) (*Table, error) {
	descriptors := make([]Descriptor, 0, len(models))
	for _, m := range models {
		descriptors = append(descriptors, FromModelConfig(m))
	}
	return NewTable(descriptors...)
}

// FromModelConfig extracts the descriptor part of a model configuration.
func FromModelConfig(m config.ModelConfig) Descriptor {
	return Descriptor{
		ID:         m.ID,
		SourceLang: m.SourceLang,
		TargetLang: m.TargetLang,
		Mode:       Mode(m.Mode),
	}
}

// All returns every descriptor ordered by id.
func (t *Table) All() []Descriptor {
	out := make([]Descriptor, 0, len(t.byID))
	for _, d := range t.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
