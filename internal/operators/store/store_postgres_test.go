package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/operators/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
)

var operatorRowColumns = []string{"id", "email", "name", "password_hash", "role", "refresh_token_hash", "refresh_token_expires_at", "created_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	operatorID := uuid.New()
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := created.Add(7 * 24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM operators WHERE email = $1`)).
		WithArgs("ana@site.co").
		WillReturnRows(sqlmock.NewRows(operatorRowColumns).
			AddRow(operatorID.String(), "ana@site.co", "Ana", "hash", "admin", "h1", exp, created))

	op, err := store.FindByEmail(context.Background(), "ana@site.co")
	require.NoError(t, err)
	assert.Equal(t, id.OperatorID(operatorID), op.ID)
	assert.Equal(t, "h1", op.RefreshTokenHash)
	require.NotNil(t, op.RefreshTokenExpiresAt)
	assert.True(t, exp.Equal(*op.RefreshTokenExpiresAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	operatorID := id.NewOperatorID()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM operators WHERE id = $1`)).
		WithArgs(operatorID.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindByID(context.Background(), operatorID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	op, err := models.NewOperator(id.NewOperatorID(), "ana@site.co", "Ana", "hash", "", time.Now())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO operators`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_operators_email"})

	assert.ErrorIs(t, store.Create(context.Background(), op), sentinel.ErrConflict)
}

func TestPostgresUpdate(t *testing.T) {
	op, err := models.NewOperator(id.NewOperatorID(), "ana@site.co", "Ana", "hash", "", time.Now())
	require.NoError(t, err)

	t.Run("email taken", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE operators`)).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_operators_email"})
		assert.ErrorIs(t, store.Update(context.Background(), op), sentinel.ErrConflict)
	})

	t.Run("missing row", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE operators`)).
			WithArgs(op.ID.String(), op.Email, op.Name, op.PasswordHash, op.Role).
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.Update(context.Background(), op), sentinel.ErrNotFound)
	})
}

func TestPostgresSetRefreshTokenClears(t *testing.T) {
	store, mock := newMockStore(t)
	operatorID := id.NewOperatorID()
	exp := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`SET refresh_token_hash = $2, refresh_token_expires_at = $3`)).
		WithArgs(operatorID.String(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetRefreshToken(context.Background(), operatorID, "", &exp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	operatorID := id.NewOperatorID()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM operators WHERE id = $1`)).
		WithArgs(operatorID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.Delete(context.Background(), operatorID), sentinel.ErrNotFound)
}

func TestPostgresEmailsByID(t *testing.T) {
	store, mock := newMockStore(t)
	known := uuid.New()

	emails, err := store.EmailsByID(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, emails)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email FROM operators WHERE id = ANY($1::uuid[])`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(known.String(), "ana@site.co"))

	emails, err = store.EmailsByID(context.Background(), []id.OperatorID{id.OperatorID(known), id.NewOperatorID()})
	require.NoError(t, err)
	assert.Equal(t, map[id.OperatorID]string{id.OperatorID(known): "ana@site.co"}, emails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCount(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM operators`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPostgresReplaceRefreshTokenLostRace(t *testing.T) {
	store, mock := newMockStore(t)
	operatorID := id.NewOperatorID()
	exp := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND refresh_token_hash = $2`)).
		WithArgs(operatorID.String(), "old", "new", exp).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.ReplaceRefreshToken(context.Background(), operatorID, "old", "new", exp)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}
