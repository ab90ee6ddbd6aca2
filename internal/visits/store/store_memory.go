// Package store is the visit ledger: visits are appended at check-in, closed
// once at check-out and never deleted.
package store

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"gatehouse/internal/visits/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

// InMemoryStore keeps the ledger in maps. The active map holds the open
// visit per document and is maintained on every write.
type InMemoryStore struct {
	mu     sync.RWMutex
	visits map[id.VisitID]*models.Visit
	active map[string]id.VisitID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		visits: make(map[id.VisitID]*models.Visit),
		active: make(map[string]id.VisitID),
	}
}

// Create appends v. It returns sentinel.ErrConflict if v is open and its
// document already has an open visit.
func (s *InMemoryStore) Create(_ context.Context, v *models.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.visits[v.ID]; exists {
		return sentinel.ErrConflict
	}
	if v.IsActive() {
		if _, open := s.active[v.DocumentID]; open {
			return sentinel.ErrConflict
		}
		s.active[v.DocumentID] = v.ID
	}
	s.visits[v.ID] = clone(v)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, visitID id.VisitID) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[visitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(v), nil
}

func (s *InMemoryStore) FindActiveByDocument(_ context.Context, documentID string) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visitID, ok := s.active[documentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.visits[visitID]), nil
}

// FindLatestByDocument returns the most recent visit for the document in
// any state.
func (s *InMemoryStore) FindLatestByDocument(_ context.Context, documentID string) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Visit
	for _, v := range s.visits {
		if v.DocumentID != documentID {
			continue
		}
		if latest == nil || less(v, latest) {
			latest = v
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return clone(latest), nil
}

// CheckOut closes the visit if it is still open. It returns
// sentinel.ErrInvalidState when a checkout was already recorded.
func (s *InMemoryStore) CheckOut(_ context.Context, visitID id.VisitID, at time.Time) (*models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[visitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !v.ApplyCheckOut(at) {
		return nil, sentinel.ErrInvalidState
	}
	if s.active[v.DocumentID] == v.ID {
		delete(s.active, v.DocumentID)
	}
	return clone(v), nil
}

// Update stores corrected snapshot fields. Times and the identity link of
// the stored row are kept regardless of what v carries.
func (s *InMemoryStore) Update(_ context.Context, v *models.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.visits[v.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.IsActive() && existing.DocumentID != v.DocumentID {
		if other, open := s.active[v.DocumentID]; open && other != v.ID {
			return sentinel.ErrConflict
		}
		delete(s.active, existing.DocumentID)
		s.active[v.DocumentID] = v.ID
	}
	existing.GivenName = v.GivenName
	existing.FamilyName = v.FamilyName
	existing.DocumentID = v.DocumentID
	existing.Category = v.Category
	existing.Destination = v.Destination
	existing.Reason = v.Reason
	return nil
}

// List returns one page of matching visits, newest first, and the total.
func (s *InMemoryStore) List(_ context.Context, f models.Filter) ([]*models.Visit, int, error) {
	matched := s.matching(f)
	total := len(matched)
	start := min(max(f.Offset(), 0), total)
	end := start + min(max(f.PageSize, 0), total-start)
	return matched[start:end], total, nil
}

// ListAll returns every matching visit, newest first.
func (s *InMemoryStore) ListAll(_ context.Context, f models.Filter) ([]*models.Visit, error) {
	return s.matching(f), nil
}

func (s *InMemoryStore) matching(f models.Filter) []*models.Visit {
	s.mu.RLock()
	out := make([]*models.Visit, 0, len(s.visits))
	for _, v := range s.visits {
		if f.Matches(v) {
			out = append(out, clone(v))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *models.Visit) int {
		if less(a, b) {
			return -1
		}
		if less(b, a) {
			return 1
		}
		return 0
	})
	return out
}

// less orders by check-in time descending, then id ascending.
func less(a, b *models.Visit) bool {
	if !a.CheckInAtUTC.Equal(b.CheckInAtUTC) {
		return a.CheckInAtUTC.After(b.CheckInAtUTC)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func clone(v *models.Visit) *models.Visit {
	cp := *v
	if v.CheckOutAtUTC != nil {
		t := *v.CheckOutAtUTC
		cp.CheckOutAtUTC = &t
	}
	if v.RecordedBy != nil {
		op := *v.RecordedBy
		cp.RecordedBy = &op
	}
	return &cp
}
