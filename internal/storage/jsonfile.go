package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// JSONFile stores a sequence as a pretty-printed JSON array in a single file.
type JSONFile struct {
	path string
}

// NewJSONFile ensures the parent directory exists and creates the file with
// an empty array when it is absent.
func NewJSONFile(path string) (*JSONFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("creating %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking %s: %w", path, err)
	}
	return &JSONFile{path: path}, nil
}

// Path returns the backing file path.
func (f *JSONFile) Path() string {
	return f.path
}

// Load reads the array. A missing file is an empty sequence; unparsable
// content is reported as ErrCorrupt.
func (f *JSONFile) Load(_ context.Context) ([]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, nil
}

// Save overwrites the file with records using 2-space indentation. The data
// is written to a temporary file first and renamed into place.
func (f *JSONFile) Save(_ context.Context, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", f.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("setting permissions on %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}
