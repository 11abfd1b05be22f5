package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI answers through the chat completions API.
type OpenAI struct {
	client *openai.Client
	opts   Options
}

// NewOpenAI creates an OpenAI backend. A non-empty opts.BaseURL points the
// client at any OpenAI-compatible endpoint.
func NewOpenAI(apiKey string, opts Options) *OpenAI {
	opts = opts.withDefaults(DefaultOpenAIModel)
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

// Name implements Backend.
func (o *OpenAI) Name() string { return "openai" }

// Generate implements Backend.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   o.opts.MaxTokens,
		Temperature: openAITemperature(o.opts.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// openAITemperature maps 0 to the smallest positive float32 because the
// client drops a zero temperature from the request.
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
