package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/chat-relay/internal/exchangelog"
)

// Config holds the DSN and connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store implements exchangelog.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed store and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS exchange_entries (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('request','response','error')),
	provider TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT '',
	stream BOOLEAN NOT NULL DEFAULT FALSE,
	remote_addr TEXT,
	instruction TEXT,
	body TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_exchange_entries_request ON exchange_entries(request_id);
CREATE INDEX IF NOT EXISTS idx_exchange_entries_created ON exchange_entries(created_at DESC);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record inserts a new exchange entry.
func (s *Store) Record(ctx context.Context, entry exchangelog.Entry) error {
	if err := entry.Check(); err != nil {
		return err
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO exchange_entries(request_id, kind, provider, mode, stream, remote_addr, instruction, body, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.RequestID,
		string(entry.Kind),
		entry.Provider,
		entry.Mode,
		entry.Stream,
		entry.RemoteAddr,
		entry.Instruction,
		entry.Body,
		created,
	)
	return err
}

// ListByRequest returns every entry written for one request, oldest first.
func (s *Store) ListByRequest(ctx context.Context, requestID string) ([]exchangelog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, request_id, kind, provider, mode, stream, remote_addr, instruction, body, created_at
FROM exchange_entries
WHERE request_id = $1
ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []exchangelog.Entry
	for rows.Next() {
		var e exchangelog.Entry
		var kind string
		var remote, instruction sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &kind, &e.Provider, &e.Mode, &e.Stream, &remote, &instruction, &e.Body, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = exchangelog.Kind(kind)
		e.RemoteAddr = remote.String
		e.Instruction = instruction.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
