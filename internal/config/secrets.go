package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const secretService = "scholar"

// secretAccount maps a dotted key onto its account name in the secrets file.
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

func secretsFilePath() string {
	dir := xdgDir("XDG_DATA_HOME", ".local", "share")
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "scholar", "secrets.json")
}

// fileSecrets reads and writes a JSON object of the form
// {"service": {"account": "value"}} with owner-only permissions.
type fileSecrets struct {
	path string
}

func (f fileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	svc, ok := secrets[service]
	if !ok {
		return "", fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return strings.TrimSpace(val), nil
}

func (f fileSecrets) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
