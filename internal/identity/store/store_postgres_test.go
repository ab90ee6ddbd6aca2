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

	"gatehouse/internal/identity/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
	txcontext "gatehouse/pkg/platform/tx"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	store, _, mock := newMockStoreDB(t)
	return store, mock
}

func newMockStoreDB(t *testing.T) (*PostgresStore, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), db, mock
}

func TestPostgresFindByDocument(t *testing.T) {
	store, mock := newMockStore(t)
	identityID := uuid.New()
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM identities WHERE document_id = $1`)).
		WithArgs("123").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "given_name", "family_name", "category", "photo_ref", "created_at"}).
			AddRow(identityID.String(), "123", "Ana", "Pérez", "visitante", nil, created))

	ident, err := store.FindByDocument(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, id.IdentityID(identityID), ident.ID)
	assert.Empty(t, ident.PhotoRef)
	assert.True(t, created.Equal(ident.CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByDocumentNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM identities WHERE document_id = $1`)).
		WithArgs("999").
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindByDocument(context.Background(), "999")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	ident, err := models.NewIdentity(id.NewIdentityID(), "123", models.Profile{GivenName: "Ana"}, time.Now())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO identities`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_identities_document"})

	err = store.Create(context.Background(), ident)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestPostgresCreateExistingDocumentKeepsTxUsable(t *testing.T) {
	store, db, mock := newMockStoreDB(t)
	ident, err := models.NewIdentity(id.NewIdentityID(), "123", models.Profile{GivenName: "Ana"}, time.Now())
	require.NoError(t, err)
	existingID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (document_id) DO NOTHING`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM identities WHERE document_id = $1`)).
		WithArgs("123").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "given_name", "family_name", "category", "photo_ref", "created_at"}).
			AddRow(existingID.String(), "123", "Ana", "Pérez", "visitante", nil, time.Now()))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	ctx := txcontext.WithTx(context.Background(), tx)

	err = store.Create(ctx, ident)
	require.ErrorIs(t, err, sentinel.ErrConflict)
	found, err := store.FindByDocument(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, id.IdentityID(existingID), found.ID)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateInserted(t *testing.T) {
	store, mock := newMockStore(t)
	ident, err := models.NewIdentity(id.NewIdentityID(), "123", models.Profile{GivenName: "Ana"}, time.Now())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO identities`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), ident))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE identities`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &models.Identity{ID: id.NewIdentityID()})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
