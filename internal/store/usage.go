// ABOUTME: SQLite implementation for per-caller tool usage accounting
// ABOUTME: Counters are read by operators to enforce quotas; increments are atomic upserts

package store

import (
	"context"
	"fmt"
	"time"
)

// IncrementToolUsage bumps the invocation counter for (callerID, tool).
// The upsert is a single statement so concurrent invocations never lose updates.
func (s *SQLiteStore) IncrementToolUsage(ctx context.Context, callerID, tool string, now time.Time) error {
	query := `
		INSERT INTO tool_usage (caller_id, tool, count, last_used_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (caller_id, tool) DO UPDATE SET
			count = count + 1,
			last_used_at = excluded.last_used_at
	`

	if _, err := s.db.ExecContext(ctx, query, callerID, tool, now.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("incrementing tool usage: %w", err)
	}
	return nil
}

// GetToolUsage returns all usage counters for a caller, highest count first.
func (s *SQLiteStore) GetToolUsage(ctx context.Context, callerID string) ([]*ToolUsage, error) {
	query := `
		SELECT caller_id, tool, count, last_used_at
		FROM tool_usage
		WHERE caller_id = ?
		ORDER BY count DESC
	`

	rows, err := s.db.QueryContext(ctx, query, callerID)
	if err != nil {
		return nil, fmt.Errorf("querying tool usage: %w", err)
	}
	defer rows.Close()

	var usages []*ToolUsage
	for rows.Next() {
		var (
			usage      ToolUsage
			lastUsedAt string
		)
		if err := rows.Scan(&usage.CallerID, &usage.Tool, &usage.Count, &lastUsedAt); err != nil {
			return nil, fmt.Errorf("scanning tool usage: %w", err)
		}
		if usage.LastUsedAt, err = time.Parse(time.RFC3339, lastUsedAt); err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		usages = append(usages, &usage)
	}
	return usages, rows.Err()
}
