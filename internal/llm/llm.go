// Package llm holds the language model backends the assistant can answer with.
package llm

import (
	"context"
	"errors"
)

// SystemPrompt is sent as the system message by backends that support one.
const SystemPrompt = "You are a helpful academic assistant."

// Generation defaults.
const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("empty response")

// Backend produces a completion for a single prompt.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options holds the generation parameters shared by every backend.
type Options struct {
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// withDefaults fills unset fields. A zero Temperature is a valid setting;
// only negative values fall back to DefaultTemperature.
func (o Options) withDefaults(model string) Options {
	if o.Model == "" {
		o.Model = model
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature < 0 {
		o.Temperature = DefaultTemperature
	}
	return o
}
