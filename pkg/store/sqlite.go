package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eranova-digital/datacore/pkg/mirror"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	kind         TEXT NOT NULL,
	key          TEXT NOT NULL,
	payload      TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	PRIMARY KEY (kind, key)
);`

// OpenSQLite opens (and initializes) the local mirror database.
// Uses modernc.org/sqlite for a pure Go implementation (no CGO required).
func OpenSQLite(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}

// SQLite is a SQLite-backed record store. All record kinds share one table,
// partitioned by the kind column; payloads are stored as JSON.
type SQLite[T any] struct {
	db   *sql.DB
	kind string
}

// NewSQLite creates a store over db for one record kind.
func NewSQLite[T any](db *sql.DB, kind string) *SQLite[T] {
	if db == nil {
		panic("sqlite db cannot be nil")
	}
	return &SQLite[T]{
		db:   db,
		kind: kind,
	}
}

// Get returns the record for key, or (nil, nil) when none exists.
func (s *SQLite[T]) Get(ctx context.Context, key string) (*mirror.Record[T], error) {
	var (
		payload     []byte
		lastUpdated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, last_updated FROM records WHERE kind = ? AND key = ?`,
		s.kind, key,
	).Scan(&payload, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite select: %w", err)
	}

	rec := &mirror.Record[T]{Key: key}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	rec.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("parse last_updated: %w", err)
	}

	return rec, nil
}

// Upsert creates or replaces the record for key, stamping LastUpdated.
func (s *SQLite[T]) Upsert(ctx context.Context, key string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (kind, key, payload, last_updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, key) DO UPDATE SET payload = excluded.payload, last_updated = excluded.last_updated`,
		s.kind, key, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert: %w", err)
	}
	return nil
}
