package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaBaseURL is where a local Ollama listens by default.
const DefaultOllamaBaseURL = "http://localhost:11434"

// Ollama answers with a model served by a local Ollama instance.
type Ollama struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
}

// NewOllama creates an Ollama backend. opts.Model is required by the server.
func NewOllama(opts Options) *Ollama {
	opts = opts.withDefaults("")
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
		httpClient: &http.Client{},
	}
}

// Name implements Backend.
func (o *Ollama) Name() string { return "ollama" }

// Model returns the configured model name.
func (o *Ollama) Model() string { return o.opts.Model }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaChatRequest is the JSON body for POST /api/chat.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

// ollamaChatResponse is the JSON returned by POST /api/chat (non-streaming).
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// Generate implements Backend.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: o.opts.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Options: &ollamaOptions{
			Temperature: o.opts.Temperature,
			NumPredict:  o.opts.MaxTokens,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat: unexpected status %d", resp.StatusCode)
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	return result.Message.Content, nil
}

// IsRunning returns true if the Ollama server responds to GET /api/tags with 200.
func (o *Ollama) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
