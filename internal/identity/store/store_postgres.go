package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gatehouse/internal/identity/models"
	"gatehouse/internal/platform/postgres"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
	txcontext "gatehouse/pkg/platform/tx"
)

// PostgresStore persists identities in PostgreSQL. It joins a transaction
// carried by the context when there is one.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `id, document_id, given_name, family_name, category, photo_ref, created_at`

func (s *PostgresStore) FindByDocument(ctx context.Context, documentID string) (*models.Identity, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE document_id = $1`, documentID)
	ident, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("find identity by document: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, uuid.UUID(identityID))
	ident, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("find identity by id: %w", err)
	}
	return ident, nil
}

// Create inserts ident. A document that is already registered reports
// sentinel.ErrConflict without failing the statement, so an enclosing
// transaction stays usable for the caller's follow-up read.
func (s *PostgresStore) Create(ctx context.Context, ident *models.Identity) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id) DO NOTHING`,
		uuid.UUID(ident.ID),
		ident.DocumentID,
		ident.GivenName,
		ident.FamilyName,
		ident.Category,
		nullString(ident.PhotoRef),
		ident.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, ident *models.Identity) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE identities
		SET given_name = $2, family_name = $3, category = $4, photo_ref = $5
		WHERE id = $1`,
		uuid.UUID(ident.ID),
		ident.GivenName,
		ident.FamilyName,
		ident.Category,
		nullString(ident.PhotoRef),
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanIdentity(row *sql.Row) (*models.Identity, error) {
	var (
		identityID uuid.UUID
		photoRef   sql.NullString
		createdAt  time.Time
		ident      models.Identity
	)
	err := row.Scan(&identityID, &ident.DocumentID, &ident.GivenName, &ident.FamilyName, &ident.Category, &photoRef, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	ident.ID = id.IdentityID(identityID)
	ident.PhotoRef = photoRef.String
	ident.CreatedAt = createdAt.UTC()
	return &ident, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
