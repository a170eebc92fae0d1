package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint records how far the scanner has covered a window.
type Checkpoint struct {
	Name           string
	WindowStart    time.Time
	ScannedThrough time.Time
	RunID          string
	UpdatedAt      time.Time
}

// ReadCheckpoint returns the named checkpoint. found is false before the
// first scan.
func (s *Store) ReadCheckpoint(ctx context.Context, name string) (cp Checkpoint, found bool, err error) {
	var windowStart, scannedThrough, updatedAt int64
	err = s.db.QueryRowContext(ctx, `
		SELECT name, window_start, scanned_through, run_id, updated_at
		FROM scan_checkpoints
		WHERE name = ?
	`, name).Scan(&cp.Name, &windowStart, &scannedThrough, &cp.RunID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint %s: %w", name, err)
	}
	cp.WindowStart = fromMillis(windowStart)
	cp.ScannedThrough = fromMillis(scannedThrough)
	cp.UpdatedAt = fromMillis(updatedAt)
	return cp, true, nil
}

// AdvanceCheckpoint stores cp if it is ahead of the stored checkpoint.
// A checkpoint never moves backwards, so an overlapping slow tick cannot
// undo a faster one. Returns whether the stored value changed.
func (s *Store) AdvanceCheckpoint(ctx context.Context, cp Checkpoint) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_checkpoints (name, window_start, scanned_through, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			window_start = excluded.window_start,
			scanned_through = excluded.scanned_through,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
		WHERE excluded.window_start > scan_checkpoints.window_start
		   OR (excluded.window_start = scan_checkpoints.window_start
		       AND excluded.scanned_through > scan_checkpoints.scanned_through)
	`, cp.Name, toMillis(cp.WindowStart), toMillis(cp.ScannedThrough), cp.RunID, toMillis(cp.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("advance checkpoint %s: %w", cp.Name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance checkpoint %s: rows affected: %w", cp.Name, err)
	}
	return n > 0, nil
}
