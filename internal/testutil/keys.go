package testutil

import (
	"fmt"
	"sync"
)

// SeqKeySource draws predetermined key tokens, then falls back to a counter.
//
// It satisfies callback.KeySource. Scripting the same token twice forces a
// key collision, which lets tests prove the registry re-draws:
//
//	src := NewSeqKeySource("a", "b", "a", "b", "c", "d")
//	// first Add  -> "ab"
//	// second Add -> draws "ab" again (collision), re-draws -> "cd"
//
// Thread-safety: SeqKeySource is safe for concurrent use via internal mutex.
type SeqKeySource struct {
	mu     sync.Mutex
	tokens []string
	idx    int
	draws  int
}

// NewSeqKeySource creates a source that returns tokens in order.
func NewSeqKeySource(tokens ...string) *SeqKeySource {
	return &SeqKeySource{tokens: tokens}
}

// Draw returns the next token. Once the script is exhausted it returns
// "k<n>" for an increasing n, which never collides with itself.
func (s *SeqKeySource) Draw() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draws++
	if s.idx < len(s.tokens) {
		tok := s.tokens[s.idx]
		s.idx++
		return tok
	}
	return fmt.Sprintf("k%d", s.draws)
}

// Draws returns how many tokens have been drawn.
func (s *SeqKeySource) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draws
}

// ConstKeySource always draws the same token, so every key after the first
// collides. Used to exercise the registry's retry bound.
type ConstKeySource string

// Draw returns the constant token.
func (c ConstKeySource) Draw() string {
	return string(c)
}
