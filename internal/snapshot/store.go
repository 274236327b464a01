package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/ir"
)

// Record is one stored snapshot.
type Record struct {
	Hash      string
	Version   int
	Content   []byte
	WrittenAt time.Time
}

// Sink is durable snapshot storage.
type Sink interface {
	// Write stores rec durably.
	Write(ctx context.Context, rec Record) error

	// Read returns the most recent record, or ErrNoSnapshot.
	Read(ctx context.Context) (Record, error)
}

// Store writes snapshots to a Sink, skipping writes whose content hash
// equals the last one written or loaded.
//
// Thread-safety: WriteIfChanged and the Load methods serialize on one
// mutex, so only one hash-compare-then-write is ever in flight.
type Store struct {
	sink  Sink
	clock engine.Clock

	mu       sync.Mutex
	lastHash string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp written records.
func WithClock(c engine.Clock) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewStore creates a store writing to sink.
func NewStore(sink Sink, opts ...StoreOption) *Store {
	s := &Store{sink: sink, clock: engine.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriteIfChanged writes doc unless its content hash equals the last
// written (or loaded) hash. Returns the hash and whether a write happened.
// On a failed write the retained hash is left unchanged so the next call
// retries.
func (s *Store) WriteIfChanged(ctx context.Context, doc Document) (string, bool, error) {
	hash, data, err := Hash(doc)
	if err != nil {
		return "", false, fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if hash == s.lastHash {
		return hash, false, nil
	}

	rec := Record{
		Hash:      hash,
		Version:   doc.Version,
		Content:   data,
		WrittenAt: s.clock.Now(),
	}
	if err := s.sink.Write(ctx, rec); err != nil {
		return "", false, fmt.Errorf("write snapshot: %w", err)
	}
	s.lastHash = hash

	slog.Debug("snapshot written",
		"hash", hash,
		"version", doc.Version,
		"entities", len(doc.Entities),
		"bytes", len(data),
	)
	return hash, true, nil
}

// Load reads the newest record from the sink and decodes it.
// Returns ErrNoSnapshot when the sink is empty.
func (s *Store) Load(ctx context.Context, opts DecodeOptions) (Document, []Warning, error) {
	rec, err := s.sink.Read(ctx)
	if err != nil {
		return Document{}, nil, err
	}
	return s.LoadBytes(rec.Content, opts)
}

// LoadBytes decodes data and, on success, primes the retained hash with the
// hash of the loaded document so an unchanged population is not rewritten.
func (s *Store) LoadBytes(data []byte, opts DecodeOptions) (Document, []Warning, error) {
	doc, warnings, err := Decode(data, opts)
	if err != nil {
		return Document{}, nil, err
	}
	hash, _, err := Hash(doc)
	if err != nil {
		return Document{}, nil, fmt.Errorf("hash loaded snapshot: %w", err)
	}

	s.mu.Lock()
	s.lastHash = hash
	s.mu.Unlock()

	for _, w := range warnings {
		slog.Warn("entity dropped from snapshot", "warning", w.String())
	}
	slog.Debug("snapshot loaded",
		"hash", hash,
		"version", ir.SchemaVersion,
		"entities", len(doc.Entities),
		"warnings", len(warnings),
	)
	return doc, warnings, nil
}

// LastHash returns the retained hash, empty before the first write or load.
func (s *Store) LastHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHash
}
