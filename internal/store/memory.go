package store

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/cadence/internal/snapshot"
)

// MemorySink keeps every written record in memory.
//
// Thread-safety: MemorySink is safe for concurrent use via internal mutex.
type MemorySink struct {
	mu      sync.Mutex
	records []snapshot.Record
}

var _ snapshot.Sink = (*MemorySink)(nil)

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends a copy of rec.
func (m *MemorySink) Write(_ context.Context, rec snapshot.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Content = slices.Clone(rec.Content)
	m.records = append(m.records, rec)
	return nil
}

// Read returns the newest record, or snapshot.ErrNoSnapshot.
func (m *MemorySink) Read(_ context.Context) (snapshot.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.records) == 0 {
		return snapshot.Record{}, snapshot.ErrNoSnapshot
	}
	return m.records[len(m.records)-1], nil
}

// Writes returns how many records have been written.
func (m *MemorySink) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Records returns all written records, oldest first.
func (m *MemorySink) Records() []snapshot.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}
