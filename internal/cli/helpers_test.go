package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/snapshot"
	"github.com/roach88/cadence/internal/store"
)

// lockedBuffer is written by runner goroutines and the command at once.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// rawRecord stores content as-is, stamped at ms.
func rawRecord(content string, version int, ms int64) snapshot.Record {
	return snapshot.Record{
		Hash:      ir.ContentHash([]byte(content)),
		Version:   version,
		Content:   []byte(content),
		WrittenAt: time.UnixMilli(ms),
	}
}

// seedStore creates a database at path holding recs, oldest first.
func seedStore(t *testing.T, path string, recs ...snapshot.Record) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	for _, rec := range recs {
		require.NoError(t, st.Write(context.Background(), rec))
	}
}

// readStore returns the newest record and the number stored.
func readStore(t *testing.T, path string) (snapshot.Record, int) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.Count(context.Background())
	require.NoError(t, err)
	rec, err := st.Read(context.Background())
	require.NoError(t, err)
	return rec, n
}

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout, stderr and
// the error.
func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &lockedBuffer{}, &lockedBuffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}
