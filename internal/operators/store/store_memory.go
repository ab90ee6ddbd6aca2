// Package store persists operator accounts in memory or PostgreSQL.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"gatehouse/internal/operators/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

// InMemoryStore keeps operators keyed by id with an email index.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[id.OperatorID]*models.Operator
	byEmail map[string]id.OperatorID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[id.OperatorID]*models.Operator),
		byEmail: make(map[string]id.OperatorID),
	}
}

// Create returns sentinel.ErrConflict when the email or id is taken.
func (s *InMemoryStore) Create(_ context.Context, op *models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[op.Email]; taken {
		return sentinel.ErrConflict
	}
	if _, taken := s.byID[op.ID]; taken {
		return sentinel.ErrConflict
	}
	s.byID[op.ID] = clone(op)
	s.byEmail[op.Email] = op.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.byID[operatorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(op), nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, addr string) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	operatorID, ok := s.byEmail[addr]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.byID[operatorID]), nil
}

func (s *InMemoryStore) FindByRefreshTokenHash(_ context.Context, hash string) (*models.Operator, error) {
	if hash == "" {
		return nil, sentinel.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, op := range s.byID {
		if op.RefreshTokenHash == hash {
			return clone(op), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// List returns every operator, oldest first.
func (s *InMemoryStore) List(_ context.Context) ([]*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Operator, 0, len(s.byID))
	for _, op := range s.byID {
		out = append(out, clone(op))
	}
	slices.SortFunc(out, func(a, b *models.Operator) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Email, b.Email)
	})
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// Update replaces the account fields. Moving onto a taken email returns
// sentinel.ErrConflict.
func (s *InMemoryStore) Update(_ context.Context, op *models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[op.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if owner, taken := s.byEmail[op.Email]; taken && owner != op.ID {
		return sentinel.ErrConflict
	}
	delete(s.byEmail, existing.Email)
	existing.Email = op.Email
	existing.Name = op.Name
	existing.PasswordHash = op.PasswordHash
	existing.Role = op.Role
	s.byEmail[op.Email] = op.ID
	return nil
}

// SetRefreshToken stores the hash of the live refresh token; an empty hash
// clears it.
func (s *InMemoryStore) SetRefreshToken(_ context.Context, operatorID id.OperatorID, hash string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.byID[operatorID]
	if !ok {
		return sentinel.ErrNotFound
	}
	op.RefreshTokenHash = hash
	op.RefreshTokenExpiresAt = nil
	if hash != "" && expiresAt != nil {
		exp := expiresAt.UTC()
		op.RefreshTokenExpiresAt = &exp
	}
	return nil
}

// ReplaceRefreshToken rotates the refresh token only if oldHash is still the
// live one; otherwise it returns sentinel.ErrInvalidState.
func (s *InMemoryStore) ReplaceRefreshToken(_ context.Context, operatorID id.OperatorID, oldHash, newHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.byID[operatorID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if oldHash == "" || op.RefreshTokenHash != oldHash {
		return sentinel.ErrInvalidState
	}
	exp := expiresAt.UTC()
	op.RefreshTokenHash = newHash
	op.RefreshTokenExpiresAt = &exp
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, operatorID id.OperatorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.byID[operatorID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byEmail, op.Email)
	delete(s.byID, operatorID)
	return nil
}

// EmailsByID resolves ids to emails; unknown ids are omitted.
func (s *InMemoryStore) EmailsByID(_ context.Context, ids []id.OperatorID) (map[id.OperatorID]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.OperatorID]string, len(ids))
	for _, operatorID := range ids {
		if op, ok := s.byID[operatorID]; ok {
			out[operatorID] = op.Email
		}
	}
	return out, nil
}

func clone(op *models.Operator) *models.Operator {
	cp := *op
	if op.RefreshTokenExpiresAt != nil {
		exp := *op.RefreshTokenExpiresAt
		cp.RefreshTokenExpiresAt = &exp
	}
	return &cp
}
