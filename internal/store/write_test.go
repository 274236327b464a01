package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/snapshot"
	"github.com/roach88/cadence/internal/testutil"
)

func TestStore_ReadEmpty(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)
}

func TestStore_WriteThenReadNewest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	t0 := testutil.Epoch

	first := createTestRecord(`{"entities":[],"version":3}`, t0)
	second := createTestRecord(`{"entities":[{"id":"a"}],"version":3}`, t0.Add(time.Second))

	require.NoError(t, s.Write(ctx, first))
	require.NoError(t, s.Write(ctx, second))

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Hash, got.Hash)
	assert.Equal(t, second.Content, got.Content)
	assert.Equal(t, second.Version, got.Version)
	assert.True(t, second.WrittenAt.Equal(got.WrittenAt))
}

func TestStore_SameMillisecondTieBreak(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, s.Write(ctx, createTestRecord(c, testutil.Epoch)))
	}

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", string(got.Content), "insertion order breaks ties")
}

func TestStore_HistoryAndPrune(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := createTestRecord(string(rune('a'+i)), testutil.Epoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Write(ctx, rec))
	}

	history, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.True(t, history[0].WrittenAt.After(history[4].WrittenAt), "newest first")
	assert.Equal(t, 1, history[0].Size)
	assert.Len(t, history[0].ID, 36)

	limited, err := s.History(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	deleted, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e", string(got.Content), "prune keeps the newest")

	_, err = s.Prune(ctx, 0)
	assert.Error(t, err)
}

func TestStore_AsSnapshotSink(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	st := snapshot.NewStore(s, snapshot.WithClock(testutil.NewFakeClock(time.Time{})))
	doc := snapshot.Pack([]snapshot.EntityRecord{{ID: "alice", CreatedAt: 1}})

	_, written, err := st.WriteIfChanged(ctx, doc)
	require.NoError(t, err)
	assert.True(t, written)
	_, written, err = st.WriteIfChanged(ctx, doc)
	require.NoError(t, err)
	assert.False(t, written)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, warnings, err := snapshot.NewStore(s).Load(ctx, snapshot.DecodeOptions{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, doc, loaded)
}

func TestRetryOp(t *testing.T) {
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}
	ctx := context.Background()

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		err := retryOp(ctx, cfg, func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error", func(t *testing.T) {
		calls := 0
		err := retryOp(ctx, cfg, func() error {
			calls++
			return errors.New("no such table")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := retryOp(ctx, cfg, func() error {
			calls++
			return errors.New("database table is locked")
		})
		assert.Error(t, err)
		assert.Equal(t, 4, calls)
	})

	t.Run("context cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := retryOp(cctx, cfg, func() error { return errors.New("database is locked") })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoffDelay(t *testing.T) {
	cfg := retryConfig{maxRetries: 5, baseDelay: 10 * time.Millisecond, maxDelay: 50 * time.Millisecond}

	for attempt := 0; attempt < 5; attempt++ {
		d := backoffDelay(cfg, attempt)
		assert.GreaterOrEqual(t, d, min(cfg.baseDelay<<attempt, cfg.maxDelay))
		assert.Less(t, d, cfg.maxDelay+cfg.baseDelay)
	}
}
