// Package params holds the canonical parameter set behind a single
// exclusive lock.
package params

import (
	"sync"

	"github.com/FranNetty/dist-keras/internal/tensor"
	"github.com/FranNetty/dist-keras/internal/update"
)

// Store is the in-memory holder of the current parameter set.
//
// Both Get and Apply hold one exclusive mutex for their full duration, so
// no read can observe a partially applied update and no two applications
// can interleave their read-modify-write.
type Store struct {
	mu      sync.Mutex          // Guards current and rule state during Apply
	current tensor.ParameterSet // The canonical snapshot
}

// StoreStats describes the held parameter set.
type StoreStats struct {
	Tensors int // Number of tensors
	Values  int // Total float64 values across all tensors
}

// NewStore creates a store seeded with a copy of initial.
// An empty initial set means "no parameters yet"; the first replacement
// delta applied will seed the store.
func NewStore(initial tensor.ParameterSet) *Store {
	return &Store{current: initial.Clone()}
}

// Get returns a snapshot of the current parameter set.
// The snapshot is a deep copy; callers may mutate it freely.
func (s *Store) Get() tensor.ParameterSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Apply combines the current set with delta under the store's lock and
// installs the result, returning a copy of the new set.
//
// On a combine error nothing is installed and the store is unchanged.
// The rule's accumulator state is mutated inside the lock, so a rule
// instance must not be shared with another store.
func (s *Store) Apply(delta tensor.Delta, rule update.Rule) (tensor.ParameterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := rule.Combine(s.current, delta)
	if err != nil {
		return nil, err
	}
	s.current = next
	return next.Clone(), nil
}

// Stats returns counts describing the current set.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := 0
	for _, t := range s.current {
		values += len(t.Data)
	}
	return StoreStats{
		Tensors: len(s.current),
		Values:  values,
	}
}
