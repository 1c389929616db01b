package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/chat-relay/internal/exchangelog"
)

// Store implements exchangelog.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create exchange log directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS exchange_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('request','response','error')),
	provider TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT '',
	stream INTEGER NOT NULL DEFAULT 0,
	remote_addr TEXT,
	instruction TEXT,
	body TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_exchange_entries_request ON exchange_entries(request_id);
CREATE INDEX IF NOT EXISTS idx_exchange_entries_created ON exchange_entries(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
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
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		string(entry.Kind),
		entry.Provider,
		entry.Mode,
		entry.Stream,
		entry.RemoteAddr,
		entry.Instruction,
		entry.Body,
		created.UTC(),
	)
	return err
}

// ListRecent returns the latest entries, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]exchangelog.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
SELECT id, request_id, kind, provider, mode, stream, remote_addr, instruction, body, created_at
FROM exchange_entries
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
}

// ListByRequest returns every entry written for one request, oldest first.
func (s *Store) ListByRequest(ctx context.Context, requestID string) ([]exchangelog.Entry, error) {
	return s.query(ctx, `
SELECT id, request_id, kind, provider, mode, stream, remote_addr, instruction, body, created_at
FROM exchange_entries
WHERE request_id = ?
ORDER BY id ASC`, requestID)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]exchangelog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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
