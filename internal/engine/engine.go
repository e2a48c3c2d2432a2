// Package engine talks to the model runtime that performs the actual
// sequence-to-sequence translation.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Translator runs a translation model over already-segmented input.
type Translator interface {
	// Translate returns one output line per input line, in order. When
	// constraints is non-nil it has the same length as lines and holds a
	// segmented target prefix that each output must continue.
	Translate(ctx context.Context, lines []string, constraints []string) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// ServerModelError reports a failure inside the model runtime itself, as
// opposed to a bug or bad input on our side.
type ServerModelError struct {
	Backend    string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServerModelError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s model server error (status %d): %s", e.Backend, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s model server error: %s", e.Backend, msg)
}

func (e *ServerModelError) Unwrap() error {
	return e.Err
}

// IsServerModelError reports whether err carries a ServerModelError.
func IsServerModelError(err error) bool {
	var sme *ServerModelError
	return errors.As(err, &sme)
}

// ErrBackendUnavailable is returned when a backend is not compiled into the
// binary.
var ErrBackendUnavailable = errors.New("translation backend not available in this build")

func checkConstraints(lines, constraints []string) error {
	if constraints != nil && len(constraints) != len(lines) {
		return fmt.Errorf("constraints length %d does not match input length %d", len(constraints), len(lines))
	}
	return nil
}
