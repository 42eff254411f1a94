// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides key/client/crate/usage persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists (not needed for :memory:)
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS api_keys (
			id           TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL,
			name         TEXT NOT NULL,
			key_hash     TEXT NOT NULL UNIQUE,
			scopes_json  TEXT NOT NULL,
			active       INTEGER NOT NULL DEFAULT 1,
			expires_at   TEXT,
			last_used_at TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id);
		CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash);

		CREATE TABLE IF NOT EXISTS oauth_clients (
			client_id           TEXT PRIMARY KEY,
			secret_hash         TEXT NOT NULL DEFAULT '',
			name                TEXT NOT NULL,
			redirect_uris_json  TEXT NOT NULL,
			grant_types_json    TEXT NOT NULL,
			response_types_json TEXT NOT NULL,
			scope               TEXT NOT NULL,
			created_at          TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS crates (
			id           TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL,
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL,
			size_bytes   INTEGER NOT NULL DEFAULT 0,
			storage_path TEXT NOT NULL,
			public       INTEGER NOT NULL DEFAULT 0,
			downloads    INTEGER NOT NULL DEFAULT 0,
			expires_at   TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_crates_owner ON crates(owner_id);
		CREATE INDEX IF NOT EXISTS idx_crates_expires ON crates(expires_at);

		CREATE TABLE IF NOT EXISTS tool_usage (
			caller_id    TEXT NOT NULL,
			tool         TEXT NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,
			last_used_at TEXT NOT NULL,
			PRIMARY KEY (caller_id, tool)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to a NULL-able sql value.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
