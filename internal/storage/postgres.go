package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB keeps collections in a shared PostgreSQL records table.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the schema if needed.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresDB{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			seq INTEGER NOT NULL,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_collection_seq ON records (collection, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

// Collection returns a Backend for the named collection.
func (p *PostgresDB) Collection(name string) (Backend, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	return &postgresCollection{pool: p.pool, name: name}, nil
}

type postgresCollection struct {
	pool *pgxpool.Pool
	name string
}

func (c *postgresCollection) Load(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := c.pool.Query(ctx, `SELECT body::text FROM records WHERE collection = $1 ORDER BY seq ASC`, c.name)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}
	defer rows.Close()

	records := []json.RawMessage{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", c.name, err)
		}
		records = append(records, json.RawMessage(body))
	}
	return records, rows.Err()
}

func (c *postgresCollection) Save(ctx context.Context, records []json.RawMessage) error {
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM records WHERE collection = $1`, c.name); err != nil {
			return fmt.Errorf("clear %s: %w", c.name, err)
		}
		if len(records) == 0 {
			return nil
		}

		now := time.Now().UTC()
		batch := &pgx.Batch{}
		for i, r := range records {
			batch.Queue(
				`INSERT INTO records (id, collection, seq, body, created_at) VALUES ($1, $2, $3, $4::jsonb, $5)`,
				uuid.NewString(), c.name, i, string(r), now,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert %s records: %w", c.name, err)
		}
		return nil
	})
}
