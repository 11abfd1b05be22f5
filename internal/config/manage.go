package config

import (
	"fmt"
	"strconv"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are never returned, only whether they are set.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		if s.secret {
			info.Value = "(not set)"
			if s.extract(cfg).(string) != "" {
				info.Value = "(set)"
			}
		} else {
			info.Value = fmt.Sprintf("%v", s.extract(cfg))
		}
		result = append(result, info)
	}
	return result
}

// SetKey persists a config key. Plain keys go to the config file and
// secrets go to the secrets file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()}, key, value)
}

type secretWriter interface {
	Set(service, account, value string) error
}

func setKeyWith(b ConfigBackend, secrets secretWriter, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return secrets.Set(secretService, secretAccount(key), value)
	}
	switch s.typ {
	case kString:
		return b.SetString(key, value)
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	case kBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("invalid bool value for %s: %w", key, err)
		}
		return b.SetString(key, value)
	case kFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("invalid float value for %s: %w", key, err)
		}
		return b.SetString(key, value)
	}
	return fmt.Errorf("unsupported type for %s", key)
}

// ValidKeys returns every config key name, secrets included.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
