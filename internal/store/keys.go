// ABOUTME: SQLite implementation for API key persistence
// ABOUTME: Keys are stored as SHA-256 hashes with scopes, expiry, and last-used tracking

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateKey stores a new API key record.
func (s *SQLiteStore) CreateKey(ctx context.Context, key *APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, owner_id, name, key_hash, scopes_json, active, expires_at, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		key.ID,
		key.OwnerID,
		key.Name,
		key.KeyHash,
		string(scopesJSON),
		boolToInt(key.Active),
		timePtrToString(key.ExpiresAt),
		timePtrToString(key.LastUsedAt),
		key.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Debug("created api key", "id", key.ID, "owner_id", key.OwnerID, "name", key.Name)
	return nil
}

// GetKeyByHash looks up an API key by the SHA-256 hash of its raw value.
// Returns ErrNotFound if no key matches.
func (s *SQLiteStore) GetKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	query := `
		SELECT id, owner_id, name, key_hash, scopes_json, active, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE key_hash = ?
	`

	row := s.db.QueryRowContext(ctx, query, keyHash)
	return scanAPIKey(row)
}

// TouchKey updates the key's last-used timestamp, but only if more than
// cooldown has elapsed since the previous update. The guard is part of the
// UPDATE itself so concurrent touches cannot amplify writes.
func (s *SQLiteStore) TouchKey(ctx context.Context, id string, now time.Time, cooldown time.Duration) error {
	cutoff := now.Add(-cooldown).UTC().Format(time.RFC3339)

	query := `
		UPDATE api_keys
		SET last_used_at = ?
		WHERE id = ? AND (last_used_at IS NULL OR last_used_at < ?)
	`

	if _, err := s.db.ExecContext(ctx, query, now.UTC().Format(time.RFC3339), id, cutoff); err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

// ListKeys returns all keys belonging to the given owner, newest first.
func (s *SQLiteStore) ListKeys(ctx context.Context, ownerID string) ([]*APIKey, error) {
	query := `
		SELECT id, owner_id, name, key_hash, scopes_json, active, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE owner_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeactivateKey marks a key inactive. Deactivated keys fail authentication.
func (s *SQLiteStore) DeactivateKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivating api key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deactivated api key", "id", id)
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var (
		key        APIKey
		scopesJSON string
		active     int
		expiresAt  sql.NullString
		lastUsedAt sql.NullString
		createdAt  string
	)

	err := row.Scan(&key.ID, &key.OwnerID, &key.Name, &key.KeyHash, &scopesJSON, &active, &expiresAt, &lastUsedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	if err := json.Unmarshal([]byte(scopesJSON), &key.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}
	key.Active = active != 0

	if key.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if key.LastUsedAt, err = parseTimePtr(lastUsedAt); err != nil {
		return nil, err
	}
	if key.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &key, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &t, nil
}
