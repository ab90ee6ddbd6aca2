package memory

import (
	"context"
	"slices"
	"sync"

	audit "gatehouse/pkg/platform/audit"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// List returns matching entries newest first; entries with equal timestamps
// keep reverse insertion order.
func (s *InMemoryStore) List(_ context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	f.Normalize()
	s.mu.RLock()
	matched := make([]audit.Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if f.Matches(s.entries[i]) {
			matched = append(matched, s.entries[i])
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b audit.Entry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(matched)
	start := min(f.Offset(), total)
	end := min(start+f.PageSize, total)
	return matched[start:end], total, nil
}

// Len is the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
