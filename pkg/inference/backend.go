// Package inference provides the model backend used by fact extraction.
// The pipeline depends only on the Backend interface, so the HTTP client,
// the caching wrapper, and the test fake are interchangeable.
package inference

import "context"

// GenerateRequest is one completion request to a model backend
type GenerateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Format asks the backend for structured output; "json" constrains the
	// completion to a single JSON object.
	Format string `json:"format,omitempty"`
}

// GenerateResponse is the completion returned by a backend
type GenerateResponse struct {
	Text             string `json:"text"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Backend generates completions. Implementations must honor context
// cancellation and deadlines.
type Backend interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	Health(ctx context.Context) error
}
