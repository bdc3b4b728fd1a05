// Package journal persists one row per session response in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one journaled response.
type Entry struct {
	SessionID string
	Seq       uint64
	RequestID string
	// Payload is the raw request payload as received.
	Payload string
	// Result is nil when the response was an error.
	Result    *bool
	ErrorCode string
	CreatedAt time.Time
}

// Store is a SQLite-backed journal.
type Store struct {
	db *sql.DB
}

type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "001_evaluations",
		sql: `
			CREATE TABLE IF NOT EXISTS evaluations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				request_id TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL,
				result INTEGER,
				error_code TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				UNIQUE (session_id, seq)
			);
			CREATE INDEX IF NOT EXISTS idx_evaluations_session ON evaluations (session_id, seq);
		`,
	},
}

// Open opens the journal database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
		_, err = db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version) VALUES (?)", m.version,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
	}
	return nil
}

// Record appends one entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	var result sql.NullBool
	if e.Result != nil {
		result = sql.NullBool{Bool: *e.Result, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (session_id, seq, request_id, payload, result, error_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, int64(e.Seq), e.RequestID, e.Payload, result, e.ErrorCode, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal record %s/%d: %w", e.SessionID, e.Seq, err)
	}
	return nil
}

// List returns the entries for one session in sequence order.
func (s *Store) List(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, request_id, payload, result, error_code, created_at
		FROM evaluations
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal list %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			seq    int64
			result sql.NullBool
		)
		if err := rows.Scan(&e.SessionID, &seq, &e.RequestID, &e.Payload, &result, &e.ErrorCode, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Seq = uint64(seq)
		if result.Valid {
			v := result.Bool
			e.Result = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
