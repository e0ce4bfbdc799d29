// Package llm is the model-provider boundary: one call in, one response and
// its token usage out. Retry, batching and budget policy live with the
// caller, not here.
package llm

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Request is a single classification call.
type Request struct {
	Model     string
	MaxTokens int64
	System    string
	Prompt    string
	// Schema is an optional sanitized JSON Schema sent as a
	// structured-output hint.
	Schema json.RawMessage
}

// Response is the provider's answer plus token accounting.
type Response struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// LogCost logs token usage and estimated cost with structured zap fields.
func (u TokenUsage) LogCost(model, phase string, costUSD float64) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", costUSD),
	)
}

// Provider defines the LLM operations the classifier uses.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
