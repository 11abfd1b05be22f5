package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

// Collection names shared by every backend.
const (
	ConversationsCollection = "conversations"
	KnowledgeCollection     = "knowledge_base"
)

// Backend kinds accepted by Open.
const (
	KindJSON     = "json"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Provider hands out a Backend per collection.
type Provider interface {
	Collection(name string) (Backend, error)
	Close() error
}

// Options selects and configures a Provider.
type Options struct {
	Backend     string
	DataDir     string
	DatabaseURL string
}

// Open builds the Provider named by opts.Backend. An empty name selects KindJSON.
func Open(ctx context.Context, opts Options) (Provider, error) {
	switch opts.Backend {
	case "", KindJSON:
		if opts.DataDir == "" {
			return nil, fmt.Errorf("json storage requires a data directory")
		}
		return &jsonProvider{dir: opts.DataDir}, nil
	case KindSQLite:
		if opts.DataDir == "" {
			return nil, fmt.Errorf("sqlite storage requires a data directory")
		}
		return OpenSQLite(opts.DataDir)
	case KindPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres storage requires storage.database_url")
		}
		return OpenPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// jsonProvider maps each collection to <dir>/<name>.json.
type jsonProvider struct {
	dir string
}

func (p *jsonProvider) Collection(name string) (Backend, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	return NewJSONFile(filepath.Join(p.dir, name+".json"))
}

func (p *jsonProvider) Close() error { return nil }
