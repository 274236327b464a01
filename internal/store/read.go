package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/snapshot"
)

// Meta describes a stored snapshot without its content.
type Meta struct {
	ID        string
	Hash      string
	Version   int
	Size      int
	WrittenAt time.Time
}

// Read returns the newest snapshot, or snapshot.ErrNoSnapshot.
//
// QUERY CONTRACT:
//   - ORDER BY written_at DESC, rowid DESC: newest first, insertion order
//     breaks ties between rows stamped in the same millisecond
func (s *Store) Read(ctx context.Context) (snapshot.Record, error) {
	var (
		rec       snapshot.Record
		writtenAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, version, content, written_at
		FROM snapshots
		ORDER BY written_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&rec.Hash, &rec.Version, &rec.Content, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Record{}, snapshot.ErrNoSnapshot
	}
	if err != nil {
		return snapshot.Record{}, fmt.Errorf("read snapshot: %w", err)
	}
	rec.WrittenAt = time.UnixMilli(writtenAt).UTC()
	return rec, nil
}

// History lists up to limit snapshots, newest first. A limit <= 0 lists all.
func (s *Store) History(ctx context.Context, limit int) ([]Meta, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, version, length(content), written_at
		FROM snapshots
		ORDER BY written_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		var (
			m         Meta
			writtenAt int64
		)
		if err := rows.Scan(&m.ID, &m.Hash, &m.Version, &m.Size, &writtenAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		m.WrittenAt = time.UnixMilli(writtenAt).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}
