package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var thinkingLevels = map[Effort]genai.ThinkingLevel{
	EffortMinimal: genai.ThinkingLevelMinimal,
	EffortLow:     genai.ThinkingLevelLow,
}

// GeminiTransport calls the Gemini API through the genai SDK.
type GeminiTransport struct {
	client *genai.Client
	model  string
}

// NewGeminiTransport returns a transport for model. An empty baseURL uses
// the SDK default endpoint.
func NewGeminiTransport(ctx context.Context, apiKey, baseURL, model string) (*GeminiTransport, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &GeminiTransport{client: client, model: model}, nil
}

func (t *GeminiTransport) Model() string { return t.model }

// Generate sends one generateContent request.
func (t *GeminiTransport) Generate(ctx context.Context, req Request) (Reply, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.Effort != "" && strings.HasPrefix(t.model, "gemini-3") {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: thinkingLevels[req.Effort]}
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, cfg)
	if err != nil {
		return Reply{}, classify(err)
	}
	if len(resp.Candidates) == 0 {
		return Reply{}, &APIError{Class: ClassTerminal, Err: errors.New("no candidates in response")}
	}
	return Reply{
		Text:      resp.Text(),
		Truncated: resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens,
	}, nil
}
