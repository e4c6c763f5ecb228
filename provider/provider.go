// Package provider defines the boundary to external embedding and completion
// services.
//
// The memory subsystem never constructs provider-specific requests. It only
// talks to an Embedder (text to vector) and, at the engine level, a Completer
// (prompt to text). Concrete adapters live in sub-packages:
//   - hash: deterministic feature-hashing embedder (offline, tests)
//   - openai: OpenAI-compatible embeddings and chat completions
//   - anthropic: Claude completions
//   - onnx: local all-MiniLM-L6-v2 embeddings (build tag "onnx")
//
// Guard and CachedEmbedder decorate any adapter with timeouts, retries,
// bounded concurrency and an embedding cache.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Embedder converts text to embedding vectors.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Completer turns a prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
}

// CompletionOptions tunes a single completion call.
type CompletionOptions struct {
	// System is an optional system prompt.
	System string

	// Model overrides the adapter's default model.
	Model string

	// MaxTokens caps the response length. Zero means adapter default.
	MaxTokens int

	// Temperature is passed through when non-nil.
	Temperature *float64
}

// ErrUnavailable marks a provider timeout or failure.
// Callers match it with errors.Is to decide between retrying and proceeding
// without memory augmentation.
var ErrUnavailable = errors.New("provider unavailable")

// UnavailableError carries the operation and the underlying cause of a
// provider failure.
type UnavailableError struct {
	Op       string // "embed" or "complete"
	Provider string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s: %s failed after %d attempt(s): %v", e.Provider, e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Unavailable wraps err as an UnavailableError unless it already is one.
func Unavailable(op, provider string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Provider: provider, Attempts: 1, Err: err}
}

// Named is implemented by adapters that can report a provider name for logs
// and errors.
type Named interface {
	Name() string
}

// NameOf returns the adapter name, or "unknown".
func NameOf(v any) string {
	if n, ok := v.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
