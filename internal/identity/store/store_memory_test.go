package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gatehouse/internal/identity/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) newIdentity(doc string) *models.Identity {
	ident, err := models.NewIdentity(id.NewIdentityID(), doc, models.Profile{GivenName: "Ana", FamilyName: "Pérez"}, time.Now())
	s.Require().NoError(err)
	return ident
}

func (s *InMemoryStoreSuite) TestLookup() {
	ident := s.newIdentity("123")
	s.Require().NoError(s.store.Create(s.ctx, ident))

	s.Run("by document", func() {
		found, err := s.store.FindByDocument(s.ctx, "123")
		s.Require().NoError(err)
		s.Equal(ident, found)
	})

	s.Run("by id", func() {
		found, err := s.store.FindByID(s.ctx, ident.ID)
		s.Require().NoError(err)
		s.Equal(ident.DocumentID, found.DocumentID)
	})

	s.Run("unknown document", func() {
		_, err := s.store.FindByDocument(s.ctx, "999")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned values are copies", func() {
		found, err := s.store.FindByDocument(s.ctx, "123")
		s.Require().NoError(err)
		found.GivenName = "mutated"
		again, err := s.store.FindByDocument(s.ctx, "123")
		s.Require().NoError(err)
		s.Equal("Ana", again.GivenName)
	})
}

func (s *InMemoryStoreSuite) TestCreateRejectsDuplicateDocument() {
	s.Require().NoError(s.store.Create(s.ctx, s.newIdentity("123")))
	err := s.store.Create(s.ctx, s.newIdentity("123"))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestUpdate() {
	ident := s.newIdentity("123")
	s.Require().NoError(s.store.Create(s.ctx, ident))

	ident.GivenName = "Ana Maria"
	ident.PhotoRef = "/uploads/personal/new.jpg"
	s.Require().NoError(s.store.Update(s.ctx, ident))

	found, err := s.store.FindByDocument(s.ctx, "123")
	s.Require().NoError(err)
	s.Equal("Ana Maria", found.GivenName)
	s.Equal("/uploads/personal/new.jpg", found.PhotoRef)

	s.Run("unknown id", func() {
		err := s.store.Update(s.ctx, s.newIdentity("456"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
