package config

import (
	"fmt"
	"log/slog"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Memory    MemoryConfig
	Knowledge KnowledgeConfig
	LLM       LLMConfig
	OpenAI    OpenAIConfig
	Gemini    GeminiConfig
	Ollama    OllamaConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir     string
	Backend     string
	DatabaseURL string
	OnCorrupt   string
}

type MemoryConfig struct {
	RecentLimit int
	MaxTurns    int
}

type KnowledgeConfig struct {
	MaxEntries int
}

type LLMConfig struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type LogConfig struct {
	Level string
}

type MetricsConfig struct {
	Namespace string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5000,
		},
		Storage: StorageConfig{
			DataDir:   defaultDataDir(),
			Backend:   "json",
			OnCorrupt: "empty",
		},
		Memory: MemoryConfig{
			RecentLimit: 10,
		},
		LLM: LLMConfig{
			DefaultModel: "openai",
			MaxTokens:    500,
			Temperature:  0.7,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Model:   "gemini-1.5-flash",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "scholar",
		},
	}
}

// Load reads configuration from the JSON config file, environment variables
// and the local secrets file, in increasing order of precedence for
// non-secret keys. Secrets come from the environment first and fall back
// to $XDG_DATA_HOME/scholar/secrets.json.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(secretService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used to start the service.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "json", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid storage.backend %q: want json, sqlite or postgres", c.Storage.Backend)
	}
	switch c.Storage.OnCorrupt {
	case "empty", "fail":
	default:
		return fmt.Errorf("invalid storage.on_corrupt %q: want empty or fail", c.Storage.OnCorrupt)
	}
	if c.Storage.Backend == "postgres" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("missing required config: storage.database_url must be set when storage.backend is postgres. " +
			"Set it via environment variable SCHOLAR_DATABASE_URL")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("missing required config: storage.data_dir")
	}
	if c.Memory.RecentLimit <= 0 {
		return fmt.Errorf("invalid memory.recent_limit %d: must be positive", c.Memory.RecentLimit)
	}
	if c.Memory.MaxTurns < 0 {
		return fmt.Errorf("invalid memory.max_turns %d: must not be negative", c.Memory.MaxTurns)
	}
	if c.Knowledge.MaxEntries < 0 {
		return fmt.Errorf("invalid knowledge.max_entries %d: must not be negative", c.Knowledge.MaxEntries)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("invalid llm.max_tokens %d: must be positive", c.LLM.MaxTokens)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// HasAIKeys reports whether at least one hosted model has an API key.
func (c Config) HasAIKeys() bool {
	return c.OpenAI.APIKey != "" || c.Gemini.APIKey != ""
}

// ParseLogLevel maps log.level onto a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q: want debug, info, warn or error", s)
	}
}
