package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/snapshot"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord builds a record for the given content.
func createTestRecord(content string, writtenAt time.Time) snapshot.Record {
	return snapshot.Record{
		Hash:      ir.ContentHash([]byte(content)),
		Version:   ir.SchemaVersion,
		Content:   []byte(content),
		WrittenAt: writtenAt,
	}
}
