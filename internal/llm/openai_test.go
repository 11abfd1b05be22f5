package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAI_Generate(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Photosynthesis converts light."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", Options{BaseURL: srv.URL + "/v1/", Temperature: DefaultTemperature})
	text, err := o.Generate(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Photosynthesis converts light." {
		t.Errorf("text = %q", text)
	}

	if got.Model != DefaultOpenAIModel {
		t.Errorf("model = %q, want %q", got.Model, DefaultOpenAIModel)
	}
	if got.MaxTokens != 500 {
		t.Errorf("max_tokens = %d, want 500", got.MaxTokens)
	}
	if got.Temperature < 0.69 || got.Temperature > 0.71 {
		t.Errorf("temperature = %v, want 0.7", got.Temperature)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != SystemPrompt {
		t.Errorf("messages[0] = %+v", got.Messages[0])
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "prompt text" {
		t.Errorf("messages[1] = %+v", got.Messages[1])
	}
}

func TestOpenAI_ZeroTemperature(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", Options{BaseURL: srv.URL + "/v1/", Temperature: 0})
	if _, err := o.Generate(context.Background(), "p"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	temp, ok := raw["temperature"].(float64)
	if !ok {
		t.Fatalf("request has no temperature: %v", raw)
	}
	if temp <= 0 || temp > 1e-6 {
		t.Errorf("temperature = %v, want effectively 0", temp)
	}
}

func TestOpenAI_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI("bad", Options{BaseURL: srv.URL})
	if _, err := o.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	o := NewOpenAI("k", Options{BaseURL: srv.URL})
	if _, err := o.Generate(context.Background(), "p"); err != ErrEmptyResponse {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}
