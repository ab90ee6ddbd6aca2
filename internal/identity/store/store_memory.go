// Package store persists identities in memory or PostgreSQL.
package store

import (
	"context"
	"sync"

	"gatehouse/internal/identity/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

// InMemoryStore keeps identities keyed by id with a document index.
type InMemoryStore struct {
	mu         sync.RWMutex
	byID       map[id.IdentityID]*models.Identity
	byDocument map[string]id.IdentityID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[id.IdentityID]*models.Identity),
		byDocument: make(map[string]id.IdentityID),
	}
}

func (s *InMemoryStore) FindByDocument(_ context.Context, documentID string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identityID, ok := s.byDocument[documentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byID[identityID]
	return &cp, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.byID[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

// Create returns sentinel.ErrConflict when the document or id is taken.
func (s *InMemoryStore) Create(_ context.Context, ident *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byDocument[ident.DocumentID]; taken {
		return sentinel.ErrConflict
	}
	if _, taken := s.byID[ident.ID]; taken {
		return sentinel.ErrConflict
	}
	cp := *ident
	s.byID[ident.ID] = &cp
	s.byDocument[ident.DocumentID] = ident.ID
	return nil
}

// Update replaces the mutable profile fields of an existing identity.
func (s *InMemoryStore) Update(_ context.Context, ident *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[ident.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	existing.GivenName = ident.GivenName
	existing.FamilyName = ident.FamilyName
	existing.Category = ident.Category
	existing.PhotoRef = ident.PhotoRef
	return nil
}
