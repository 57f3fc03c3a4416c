package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Checkpoint is a held start-section lock for one control. The
// rapo_checkpoint UNIQUE constraint makes the insert the lock
// acquisition; releasing deletes the row.
type Checkpoint struct {
	store     *Store
	controlID int64
	processID int64
	released  bool
}

// AcquireCheckpoint blocks until the control's start section is free,
// backing off between attempts. The context bounds the wait.
func (s *Store) AcquireCheckpoint(ctx context.Context, controlID, processID int64) (*Checkpoint, error) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rapo_checkpoint (control_id, process_id, added)
			VALUES (?, ?, ?)
		`, controlID, processID, s.timestamp(s.now()))
		if err == nil {
			return &Checkpoint{store: s, controlID: controlID, processID: processID}, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("acquire checkpoint: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire checkpoint: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Release frees the start section. Safe to call more than once.
func (c *Checkpoint) Release(ctx context.Context) error {
	if c.released {
		return nil
	}
	_, err := c.store.db.ExecContext(ctx, `
		DELETE FROM rapo_checkpoint
		WHERE control_id = ? AND process_id = ?
	`, c.controlID, c.processID)
	if err != nil {
		return fmt.Errorf("release checkpoint: %w", err)
	}
	c.released = true
	return nil
}

// isUniqueViolation matches the SQLite unique-constraint error.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
