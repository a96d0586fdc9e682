// Package llm talks to text-generation endpoints. Provider transports are
// wrapped by Client, which adds retries, pacing, and the circuit breaker.
package llm

import (
	"context"
	"fmt"
)

// Request is one summarization call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
	// JSON asks the endpoint for JSON-object output.
	JSON bool
	// RetryTruncated retries replies cut off by the token limit instead of
	// returning ErrTruncated immediately.
	RetryTruncated bool
	// Effort is a reasoning hint for models that accept one.
	Effort Effort
	// CheckComplete, if set, inspects a reply the provider reported as
	// finished. An error marks the reply as truncated.
	CheckComplete func(text string) error
}

// Effort is how much reasoning a model should spend on a request.
type Effort string

const (
	EffortMinimal Effort = "minimal"
	EffortLow     Effort = "low"
)

// Reply is the text returned by a transport.
type Reply struct {
	Text      string
	Truncated bool
}

// Transport performs a single attempt against a provider. Errors should be
// classified with classify so Client can decide whether to retry.
type Transport interface {
	Generate(ctx context.Context, req Request) (Reply, error)
	Model() string
}

// Provider names a supported endpoint family.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// DefaultModels holds the model used when none is configured.
var DefaultModels = map[Provider]string{
	ProviderOpenAI: "gpt-4o-mini",
	ProviderGemini: "gemini-2.5-flash",
}

// NewTransport builds the transport for provider.
func NewTransport(ctx context.Context, provider Provider, apiKey, baseURL, model string) (Transport, error) {
	if model == "" {
		model = DefaultModels[provider]
	}
	switch provider {
	case ProviderOpenAI, "":
		return NewOpenAITransport(apiKey, baseURL, model), nil
	case ProviderGemini:
		return NewGeminiTransport(ctx, apiKey, baseURL, model)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
