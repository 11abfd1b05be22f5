// Package assistant turns a question plus conversation context into an answer
// from one of the configured language model backends.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/scholar/internal/composer"
	"github.com/kalambet/scholar/internal/knowledge"
	"github.com/kalambet/scholar/internal/llm"
	"github.com/kalambet/scholar/internal/memory"
	"github.com/kalambet/scholar/internal/observability"
)

// ErrNoBackends is returned by New when no backend is configured.
var ErrNoBackends = errors.New("no AI API keys configured")

// Assistant dispatches prompts to the selected backend.
type Assistant struct {
	backends     map[Model]llm.Backend
	defaultModel Model
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(m Model) Option {
	return func(a *Assistant) { a.defaultModel = m }
}

// WithMetrics records backend latency and failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// New creates an Assistant over backends. Nil entries are ignored.
func New(backends map[Model]llm.Backend, opts ...Option) (*Assistant, error) {
	a := &Assistant{
		backends:     make(map[Model]llm.Backend, len(backends)),
		defaultModel: ModelOpenAI,
		logger:       slog.Default(),
	}
	for m, b := range backends {
		if b != nil {
			a.backends[m] = b
		}
	}
	if len(a.backends) == 0 {
		return nil, ErrNoBackends
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Resolve maps a request's model selector to a Model. An empty selector
// yields the default model.
func (a *Assistant) Resolve(selector string) (Model, error) {
	m, err := ParseModel(selector)
	if err != nil {
		return "", err
	}
	if m == "" {
		return a.defaultModel, nil
	}
	return m, nil
}

// Configured reports whether a backend is registered for m.
func (a *Assistant) Configured(m Model) bool {
	_, ok := a.backends[m]
	return ok
}

// Models lists the configured models in a stable order.
func (a *Assistant) Models() []Model {
	var out []Model
	for _, m := range []Model{ModelOpenAI, ModelGemini, ModelOllama} {
		if a.Configured(m) {
			out = append(out, m)
		}
	}
	return out
}

// DefaultModel returns the model used for requests that name none.
func (a *Assistant) DefaultModel() Model {
	return a.defaultModel
}

// Generate builds the prompt from history and entries and asks model for an
// answer. A missing backend or a backend failure is reported in the returned
// text rather than as an error. Only an unknown model is an error.
func (a *Assistant) Generate(ctx context.Context, message string, history []memory.Turn, entries []knowledge.Entry, model Model) (string, error) {
	if model == "" {
		model = a.defaultModel
	}
	if _, ok := aliases[string(model)]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	backend, ok := a.backends[model]
	if !ok {
		return model.Display() + " is not configured", nil
	}

	prompt := composer.Prompt(composer.BuildContext(history, entries), message)
	a.logger.Debug("generating answer", "model", model, "prompt_tokens", composer.EstimateTokens(prompt))

	start := time.Now()
	text, err := backend.Generate(ctx, prompt)
	a.metrics.ObserveGeneration(string(model), time.Since(start), err != nil)
	if err != nil {
		a.logger.Warn("backend failed", "model", model, "error", err)
		return fmt.Sprintf("%s Error: %v", model.Display(), err), nil
	}
	return text, nil
}
