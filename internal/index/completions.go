package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Key identifies one (source, target) completion record. SourcePath is
// source-relative and NFC-normalized.
type Key struct {
	SourcePath string
	TargetName string
}

// Get returns the recorded change token for key, or ok=false when no
// completion has been recorded.
func (s *Store) Get(ctx context.Context, key Key) (string, bool, error) {
	ctx = ensureContext(ctx)
	var token string
	err := s.db.QueryRowContext(ctx,
		"SELECT change_token FROM completions WHERE source_path = ? AND target_name = ?",
		key.SourcePath, key.TargetName,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read completion: %w", err)
	}
	return token, true, nil
}

// Put records a successful encode of the given change token.
func (s *Store) Put(ctx context.Context, key Key, changeToken string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO completions (source_path, target_name, change_token, completed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (source_path, target_name)
		 DO UPDATE SET change_token = excluded.change_token, completed_at = excluded.completed_at`,
		key.SourcePath, key.TargetName, changeToken, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

// Delete removes the completion record for key, if any.
func (s *Store) Delete(ctx context.Context, key Key) error {
	_, err := s.execWithRetry(ctx,
		"DELETE FROM completions WHERE source_path = ? AND target_name = ?",
		key.SourcePath, key.TargetName,
	)
	if err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	return nil
}

// DeleteSource removes completion records for every target of one source.
func (s *Store) DeleteSource(ctx context.Context, sourcePath string) error {
	_, err := s.execWithRetry(ctx,
		"DELETE FROM completions WHERE source_path = ?", sourcePath,
	)
	if err != nil {
		return fmt.Errorf("delete source completions: %w", err)
	}
	return nil
}

// Clear removes every completion record. Used by force_reencode.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM completions")
	if err != nil {
		return 0, fmt.Errorf("clear completions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count cleared completions: %w", err)
	}
	return affected, nil
}

// Snapshot bulk-loads all completion records for a planning pass.
func (s *Store) Snapshot(ctx context.Context) (map[Key]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_path, target_name, change_token FROM completions",
	)
	if err != nil {
		return nil, fmt.Errorf("load completions: %w", err)
	}
	defer rows.Close()

	out := map[Key]string{}
	for rows.Next() {
		var key Key
		var token string
		if err := rows.Scan(&key.SourcePath, &key.TargetName, &token); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		out[key] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return out, nil
}
