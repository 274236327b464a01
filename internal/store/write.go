package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/cadence/internal/snapshot"
)

// Write appends rec as the newest snapshot row.
// Transient lock errors are retried with backoff.
func (s *Store) Write(ctx context.Context, rec snapshot.Record) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("write snapshot: generate id: %w", err)
	}

	err = retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO snapshots (id, hash, version, content, written_at)
			VALUES (?, ?, ?, ?, ?)
		`,
			id.String(),
			rec.Hash,
			rec.Version,
			rec.Content,
			rec.WrittenAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Prune deletes all but the newest keep rows. Returns the number deleted.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune: keep must be at least 1, got %d", keep)
	}

	var deleted int64
	err := retryOp(ctx, defaultRetryConfig, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM snapshots
			WHERE rowid NOT IN (
				SELECT rowid FROM snapshots
				ORDER BY written_at DESC, rowid DESC
				LIMIT ?
			)
		`, keep)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return deleted, nil
}
