package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	altEnv  string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "SCHOLAR_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SCHOLAR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "SCHOLAR_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SCHOLAR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.backend", typ: kString, env: "SCHOLAR_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.database_url", typ: kString, env: "SCHOLAR_DATABASE_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseURL },
	},
	{
		key: "storage.on_corrupt", typ: kString, env: "SCHOLAR_STORAGE_ON_CORRUPT",
		apply:   func(cfg *Config, v any) { cfg.Storage.OnCorrupt = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Storage.OnCorrupt },
	},
	{
		key: "memory.recent_limit", typ: kInt, env: "SCHOLAR_MEMORY_RECENT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Memory.RecentLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.RecentLimit },
	},
	{
		key: "memory.max_turns", typ: kInt, env: "SCHOLAR_MEMORY_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxTurns },
	},
	{
		key: "knowledge.max_entries", typ: kInt, env: "SCHOLAR_KNOWLEDGE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.MaxEntries },
	},
	{
		key: "llm.default_model", typ: kString, env: "SCHOLAR_LLM_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.DefaultModel },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "SCHOLAR_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "SCHOLAR_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "openai.api_key", typ: kString, env: "SCHOLAR_OPENAI_API_KEY", altEnv: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "SCHOLAR_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "SCHOLAR_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "gemini.api_key", typ: kString, env: "SCHOLAR_GEMINI_API_KEY", altEnv: "GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.base_url", typ: kString, env: "SCHOLAR_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.model", typ: kString, env: "SCHOLAR_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SCHOLAR_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "SCHOLAR_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "log.level", typ: kString, env: "SCHOLAR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "metrics.namespace", typ: kString, env: "SCHOLAR_METRICS_NAMESPACE",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Namespace = v.(string) },
		extract: func(cfg Config) any { return cfg.Metrics.Namespace },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func envValue(s keySpec) string {
	if raw := os.Getenv(s.env); raw != "" {
		return raw
	}
	if s.altEnv != "" {
		return os.Getenv(s.altEnv)
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := envValue(s)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
