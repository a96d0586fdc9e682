package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAITransport calls an OpenAI-compatible chat completions endpoint.
type OpenAITransport struct {
	client *openai.Client
	model  string
}

// NewOpenAITransport returns a transport for model. An empty baseURL uses
// the public OpenAI API.
func NewOpenAITransport(apiKey, baseURL, model string) *OpenAITransport {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAITransport{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (t *OpenAITransport) Model() string { return t.model }

// Generate sends one chat completion request.
func (t *OpenAITransport) Generate(ctx context.Context, req Request) (Reply, error) {
	r := openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	// Reasoning models reject max_tokens and non-default temperatures.
	if reasoningModel(t.model) {
		r.MaxCompletionTokens = req.MaxTokens
		r.ReasoningEffort = string(req.Effort)
	} else {
		r.MaxTokens = req.MaxTokens
		r.Temperature = req.Temperature
	}
	if req.JSON {
		r.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := t.client.CreateChatCompletion(ctx, r)
	if err != nil {
		return Reply{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, &APIError{Class: ClassTerminal, Err: errors.New("no choices in response")}
	}
	choice := resp.Choices[0]
	return Reply{
		Text:      choice.Message.Content,
		Truncated: choice.FinishReason == openai.FinishReasonLength,
	}, nil
}

func reasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
