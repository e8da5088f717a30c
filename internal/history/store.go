// Package history records finished compiles in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one finished compile.
type Record struct {
	BuildID    string
	Target     string
	Status     string
	Errors     int
	Warnings   int
	Duration   time.Duration
	FinishedAt time.Time
}

// Store persists compile records.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the store at dbPath. Use ":memory:" for an
// in-memory database.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS compiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		errors INTEGER NOT NULL,
		warnings INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_compiles_finished_at ON compiles(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores r.
func (s *Store) Append(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO compiles (build_id, target, status, errors, warnings, duration_ms, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		r.BuildID, r.Target, r.Status, r.Errors, r.Warnings, r.Duration.Milliseconds(), r.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert compile: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT build_id, target, status, errors, warnings, duration_ms, finished_at FROM compiles ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query compiles: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r          Record
			durationMS int64
			finishedMS int64
		)
		if err := rows.Scan(&r.BuildID, &r.Target, &r.Status, &r.Errors, &r.Warnings, &durationMS, &finishedMS); err != nil {
			return nil, fmt.Errorf("scan compile: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.FinishedAt = time.UnixMilli(finishedMS)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
