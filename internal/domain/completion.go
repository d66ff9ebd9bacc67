package domain

import (
	"context"
	"fmt"
)

// Completer is the gated assistant contract between layers.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// HealthChecker verifies an upstream dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CompletionRequest is one assistant call on behalf of a user.
type CompletionRequest struct {
	UserID    string
	FeatureID string
	System    string
	Prompt    string
}

// CompletionResult carries the answer and token usage.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// SystemPromptCompleter is a decorator that fills in a per-feature system prompt
// when the request has none.
type SystemPromptCompleter struct {
	inner   Completer
	prompts map[string]string
}

// NewSystemPromptCompleter creates the decorator. prompts is keyed by feature id.
func NewSystemPromptCompleter(inner Completer, prompts map[string]string) *SystemPromptCompleter {
	return &SystemPromptCompleter{inner: inner, prompts: prompts}
}

// Complete sets the system prompt and delegates to the inner completer.
func (c *SystemPromptCompleter) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	if req.System == "" {
		req.System = c.prompts[req.FeatureID]
	}
	res, err := c.inner.Complete(ctx, req)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("system prompt complete: %w", err)
	}
	return res, nil
}
