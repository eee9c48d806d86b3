// Package llm wraps the local model endpoint (Ollama-compatible API)
// behind a small Generator interface so the classifier and drafter can
// be tested without a live model.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Options tunes a single completion call.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generator produces one completion for one prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// ErrorKind classifies a generation failure for retry and degrade
// decisions upstream.
type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrQuota     ErrorKind = "quota"
	ErrMalformed ErrorKind = "malformed"
	ErrUpstream  ErrorKind = "upstream"
)

// GenerationError is the typed failure returned by Complete.
type GenerationError struct {
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// KindOf extracts the error kind from err, defaulting to upstream.
func KindOf(err error) ErrorKind {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return ErrUpstream
}
