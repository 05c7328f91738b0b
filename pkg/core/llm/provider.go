package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by providers constructed without credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

// Options tunes a single generation call. Zero values use the provider defaults.
type Options struct {
	Model       string
	Temperature *float32
	JSON        bool // ask for an application/json response
}

// Provider is the interface for all LLM providers.
type Provider interface {
	GenerateResponse(ctx context.Context, prompt string, systemPrompt string, opts Options) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, prompt string, systemPrompt string, opts Options) (string, error)

func (f ProviderFunc) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, opts Options) (string, error) {
	return f(ctx, prompt, systemPrompt, opts)
}
