// Package llm sends generation prompts to a hosted text model and returns
// the raw completion. Replies are tab-separated item rows, so providers do
// no structured-output negotiation; parsing and validation belong to the
// caller.
package llm

import "context"

// Provider is a text completion backend.
type Provider interface {
	// Generate sends one prompt and returns the model's text reply.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request is a single-turn completion request.
type Request struct {
	// System is an optional system instruction.
	System string

	// Prompt is the user prompt.
	Prompt string

	// MaxTokens caps the reply length. Zero leaves the provider default,
	// except for Anthropic which requires a value.
	MaxTokens int

	// Temperature controls randomness. Zero uses the provider default.
	Temperature float64
}

// StopReason is the normalized reason generation stopped.
type StopReason string

const (
	StopEnd       StopReason = "end"
	StopMaxTokens StopReason = "max_tokens"
	StopFiltered  StopReason = "filtered"
)

// Response holds the model's reply.
type Response struct {
	Text       string
	Usage      Usage
	Model      string
	StopReason StopReason
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Truncated reports whether the reply was cut off by the token cap. The
// last row of a truncated reply is usually incomplete.
func (r *Response) Truncated() bool {
	return r != nil && r.StopReason == StopMaxTokens
}
