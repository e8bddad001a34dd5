// Package provider adapts the supported LLM vendors to two narrow
// interfaces, one for text generation and one for embeddings, and picks
// the active pair from configuration.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/drleelm/drleelm/internal/ollama"
	"github.com/drleelm/drleelm/internal/proxy"
)

// Provider names as they appear in LLM_PROVIDER and EMB_PROVIDER.
const (
	Gemini     = "gemini"
	OpenAI     = "openai"
	Claude     = "claude"
	Grok       = "grok"
	OpenRouter = "openrouter"
	Ollama     = "ollama"
)

// Names lists every supported provider.
var Names = []string{Gemini, OpenAI, Claude, Grok, OpenRouter, Ollama}

// GenerateOptions carries sampling parameters. Temperature is always sent;
// a zero MaxTokens leaves the vendor default in place.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// LLM generates a completion for a single prompt.
type LLM interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Embeddings turns text into a vector.
type Embeddings interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Error is a failure reported by, or while reaching, a vendor.
// Status is the HTTP status when the vendor answered, 0 otherwise.
type Error struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrMissingKey is wrapped by construction errors for absent credentials.
var ErrMissingKey = errors.New("API key not configured")

func missingKey(name, key string) error {
	return &Error{Provider: name, Message: fmt.Sprintf("%s: set %s", ErrMissingKey, key), Err: ErrMissingKey}
}

// wrapErr converts a transport or vendor error into *Error.
func wrapErr(name string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	var pse *proxy.StatusError
	if errors.As(err, &pse) {
		return &Error{Provider: name, Status: pse.Status, Message: pse.Message, Err: err}
	}
	var ose *ollama.StatusError
	if errors.As(err, &ose) {
		return &Error{Provider: name, Status: ose.Status, Message: ose.Message, Err: err}
	}
	return &Error{Provider: name, Message: err.Error(), Err: err}
}

// failedLLM reports a construction error on every call so a bad
// configuration fails jobs instead of the process.
type failedLLM struct {
	err error
}

func (f failedLLM) Generate(context.Context, string, GenerateOptions) (string, error) {
	return "", f.err
}
