// ABOUTME: SQLite implementation for crate metadata persistence
// ABOUTME: Tracks artifact ownership, download counts, and guest-upload expiry

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateCrate stores crate metadata for an uploaded artifact.
func (s *SQLiteStore) CreateCrate(ctx context.Context, crate *Crate) error {
	if crate.ID == "" {
		crate.ID = uuid.New().String()
	}
	if crate.CreatedAt.IsZero() {
		crate.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO crates (id, owner_id, title, description, content_type, size_bytes, storage_path, public, downloads, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		crate.ID,
		crate.OwnerID,
		crate.Title,
		crate.Description,
		crate.ContentType,
		crate.SizeBytes,
		crate.StoragePath,
		boolToInt(crate.Public),
		crate.Downloads,
		timePtrToString(crate.ExpiresAt),
		crate.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting crate: %w", err)
	}

	s.logger.Debug("created crate", "id", crate.ID, "owner_id", crate.OwnerID, "title", crate.Title)
	return nil
}

// GetCrate retrieves crate metadata by ID.
// Returns ErrNotFound if the crate does not exist.
func (s *SQLiteStore) GetCrate(ctx context.Context, id string) (*Crate, error) {
	row := s.db.QueryRowContext(ctx, selectCrate+` WHERE id = ?`, id)
	return scanCrate(row)
}

// ListCrates returns crates owned by ownerID, newest first.
func (s *SQLiteStore) ListCrates(ctx context.Context, ownerID string, limit int) ([]*Crate, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectCrate+` WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying crates: %w", err)
	}
	defer rows.Close()

	return collectCrates(rows)
}

// SearchCrates returns the owner's crates whose title or description match
// the query substring, newest first.
func (s *SQLiteStore) SearchCrates(ctx context.Context, ownerID, query string, limit int) ([]*Crate, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx,
		selectCrate+` WHERE owner_id = ? AND (title LIKE ? OR description LIKE ?) ORDER BY created_at DESC LIMIT ?`,
		ownerID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching crates: %w", err)
	}
	defer rows.Close()

	return collectCrates(rows)
}

// DeleteCrate removes crate metadata.
// Returns ErrNotFound if the crate does not exist.
func (s *SQLiteStore) DeleteCrate(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM crates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting crate: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementDownloads atomically increments a crate's download counter.
func (s *SQLiteStore) IncrementDownloads(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE crates SET downloads = downloads + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("incrementing downloads: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredCrates removes crates whose expiry has passed and returns
// their storage paths so callers can delete the underlying blobs.
func (s *SQLiteStore) DeleteExpiredCrates(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.UTC().Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx,
		`SELECT storage_path FROM crates WHERE expires_at IS NOT NULL AND expires_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying expired crates: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scanning storage path: %w", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(paths) > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM crates WHERE expires_at IS NOT NULL AND expires_at < ?`, cutoff); err != nil {
			return nil, fmt.Errorf("deleting expired crates: %w", err)
		}
		s.logger.Info("swept expired crates", "count", len(paths))
	}

	return paths, nil
}

const selectCrate = `
	SELECT id, owner_id, title, description, content_type, size_bytes, storage_path, public, downloads, expires_at, created_at
	FROM crates`

func collectCrates(rows *sql.Rows) ([]*Crate, error) {
	var crates []*Crate
	for rows.Next() {
		crate, err := scanCrate(rows)
		if err != nil {
			return nil, err
		}
		crates = append(crates, crate)
	}
	return crates, rows.Err()
}

func scanCrate(row rowScanner) (*Crate, error) {
	var (
		crate     Crate
		public    int
		expiresAt sql.NullString
		createdAt string
	)

	err := row.Scan(&crate.ID, &crate.OwnerID, &crate.Title, &crate.Description, &crate.ContentType,
		&crate.SizeBytes, &crate.StoragePath, &public, &crate.Downloads, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning crate: %w", err)
	}

	crate.Public = public != 0
	if crate.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if crate.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &crate, nil
}
