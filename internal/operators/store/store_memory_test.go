package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/operators/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

func newOperator(t *testing.T, addr string, at time.Time) *models.Operator {
	t.Helper()
	op, err := models.NewOperator(id.NewOperatorID(), addr, "", "hash", "", at)
	require.NoError(t, err)
	return op
}

func TestInMemoryCreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	op := newOperator(t, "ana@site.co", time.Now())
	require.NoError(t, s.Create(ctx, op))

	got, err := s.FindByEmail(ctx, "ana@site.co")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)

	got.Name = "changed"
	again, err := s.FindByID(ctx, op.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", again.Name, "callers get copies")

	dup := newOperator(t, "ana@site.co", time.Now())
	assert.ErrorIs(t, s.Create(ctx, dup), sentinel.ErrConflict)

	_, err = s.FindByEmail(ctx, "nobody@site.co")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	ana := newOperator(t, "ana@site.co", time.Now())
	luis := newOperator(t, "luis@site.co", time.Now())
	require.NoError(t, s.Create(ctx, ana))
	require.NoError(t, s.Create(ctx, luis))

	ana.Email = "luis@site.co"
	assert.ErrorIs(t, s.Update(ctx, ana), sentinel.ErrConflict)

	ana.Email = "ana.gomez@site.co"
	ana.Role = models.RoleAdmin
	require.NoError(t, s.Update(ctx, ana))

	_, err := s.FindByEmail(ctx, "ana@site.co")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	got, err := s.FindByEmail(ctx, "ana.gomez@site.co")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)

	missing := newOperator(t, "ghost@site.co", time.Now())
	assert.ErrorIs(t, s.Update(ctx, missing), sentinel.ErrNotFound)
}

func TestInMemoryRefreshToken(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	op := newOperator(t, "ana@site.co", time.Now())
	require.NoError(t, s.Create(ctx, op))

	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.SetRefreshToken(ctx, op.ID, "h1", &exp))
	got, err := s.FindByRefreshTokenHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	require.NotNil(t, got.RefreshTokenExpiresAt)

	require.NoError(t, s.SetRefreshToken(ctx, op.ID, "", nil))
	_, err = s.FindByRefreshTokenHash(ctx, "h1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.FindByRefreshTokenHash(ctx, "")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	assert.ErrorIs(t, s.SetRefreshToken(ctx, id.NewOperatorID(), "h2", &exp), sentinel.ErrNotFound)
}

func TestInMemoryReplaceRefreshToken(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	op := newOperator(t, "ana@site.co", time.Now())
	require.NoError(t, s.Create(ctx, op))
	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.SetRefreshToken(ctx, op.ID, "h1", &exp))

	require.NoError(t, s.ReplaceRefreshToken(ctx, op.ID, "h1", "h2", exp))
	assert.ErrorIs(t, s.ReplaceRefreshToken(ctx, op.ID, "h1", "h3", exp), sentinel.ErrInvalidState, "old token already rotated")

	got, err := s.FindByRefreshTokenHash(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
}

func TestInMemoryListCountDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	second := newOperator(t, "b@site.co", base.Add(time.Minute))
	first := newOperator(t, "a@site.co", base)
	require.NoError(t, s.Create(ctx, second))
	require.NoError(t, s.Create(ctx, first))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	emails, err := s.EmailsByID(ctx, []id.OperatorID{first.ID, id.NewOperatorID()})
	require.NoError(t, err)
	assert.Equal(t, map[id.OperatorID]string{first.ID: "a@site.co"}, emails)

	require.NoError(t, s.Delete(ctx, first.ID))
	assert.ErrorIs(t, s.Delete(ctx, first.ID), sentinel.ErrNotFound)
	require.NoError(t, s.Create(ctx, newOperator(t, "a@site.co", base)), "email is free again")
}
