package assistant

import (
	"errors"
	"fmt"
	"strings"
)

// Model names a configured backend.
type Model string

const (
	ModelOpenAI Model = "openai"
	ModelGemini Model = "gemini"
	ModelOllama Model = "ollama"
)

// ErrUnknownModel is returned for a model selector that names no backend.
var ErrUnknownModel = errors.New("unknown model")

var aliases = map[string]Model{
	"openai":    ModelOpenAI,
	"primary":   ModelOpenAI,
	"gemini":    ModelGemini,
	"secondary": ModelGemini,
	"ollama":    ModelOllama,
	"local":     ModelOllama,
}

// ParseModel resolves a model name or alias. Matching ignores case and
// surrounding whitespace. The empty string is returned unchanged so callers
// can substitute their default.
func ParseModel(s string) (Model, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", nil
	}
	m, ok := aliases[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, s)
	}
	return m, nil
}

// Display returns the human-readable backend name used in replies.
func (m Model) Display() string {
	switch m {
	case ModelOpenAI:
		return "OpenAI"
	case ModelGemini:
		return "Gemini"
	case ModelOllama:
		return "Ollama"
	default:
		return string(m)
	}
}
