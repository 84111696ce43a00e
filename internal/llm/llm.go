// Package llm defines the language-model boundary for the Clarify pipeline.
//
// The pipeline treats the model endpoint as a black-box function: a system
// instruction and a user-content string go in, a text completion or a
// classifiable error comes out. Clients are constructed explicitly and
// injected into the components that need them; there is no package-level
// singleton.
package llm

import (
	"context"
	"fmt"
)

// CompletionRequest is a single request/response model call.
type CompletionRequest struct {
	// System is the fixed instruction for the call.
	System string

	// Prompt is the user-content string.
	Prompt string

	// MaxTokens caps the completion length. Zero uses the client default.
	MaxTokens int

	// Temperature controls sampling. The pipeline uses low values for
	// consistent extraction.
	Temperature float64
}

// Client is the model boundary. Implementations return either the text
// completion or an error; transient failures should surface as *APIError
// or a network error so the retry layer can classify them.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// APIError is a classifiable failure from the model provider, carrying an
// HTTP-like status and, when the provider reports one, an error category
// such as "rate_limit_error" or "overloaded_error".
type APIError struct {
	StatusCode int
	Category   string
	Message    string
}

func (e *APIError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("model api error (%d %s): %s", e.StatusCode, e.Category, e.Message)
	}
	return fmt.Sprintf("model api error (%d): %s", e.StatusCode, e.Message)
}

// HTTPStatus reports the HTTP-like status for retry classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ErrorCategory reports the provider error category for retry classification.
func (e *APIError) ErrorCategory() string { return e.Category }
