package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores partial blobs in the partial_blobs table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects using dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blobstore: ping postgres: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS partial_blobs (
    id         text PRIMARY KEY,
    data       bytea NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("blobstore: ensure schema: %w", err)
	}
	return nil
}

// Get returns the blob stored under id.
func (s *Postgres) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM partial_blobs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", id, err)
	}
	return data, nil
}

// Put replaces the blob stored under id.
func (s *Postgres) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO partial_blobs (id, data, updated_at) VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, id, data)
	if err != nil {
		return fmt.Errorf("blobstore: put %s: %w", id, err)
	}
	return nil
}

// Delete removes the blob stored under id.
func (s *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM partial_blobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", id, err)
	}
	return nil
}

// List returns every stored blob.
func (s *Postgres) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, octet_length(data) FROM partial_blobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("blobstore: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Size); err != nil {
			return nil, fmt.Errorf("blobstore: list: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the connection pool.
func (s *Postgres) Close() error { return s.db.Close() }
