// Package operations holds the in-memory store of synthesized
// operations. The poller is the only writer in practice, but HTTP
// handlers read concurrently, so access is mutex-guarded.
package operations

import (
	"sort"
	"sync"

	"refinery/internal/signal"
)

// Store keeps operations keyed by id.
type Store struct {
	mu  sync.RWMutex
	ops map[string]signal.Operation
}

// NewStore creates an empty operation store.
func NewStore() *Store {
	return &Store{ops: make(map[string]signal.Operation)}
}

// Merge adds newly synthesized operations. Existing ids are left
// untouched: an operation owns its signal snapshot once created.
func (s *Store) Merge(ops []signal.Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, op := range ops {
		if _, exists := s.ops[op.ID]; exists {
			continue
		}
		s.ops[op.ID] = op
		added++
	}
	return added
}

// List returns all operations, newest first.
func (s *Store) List() []signal.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signal.Operation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns one operation by id.
func (s *Store) Get(id string) (signal.Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	return op, ok
}

// Count returns the number of stored operations.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops)
}
