package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gatehouse/internal/operators/models"
	"gatehouse/internal/platform/postgres"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
	txcontext "gatehouse/pkg/platform/tx"
)

// PostgresStore persists operators in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	operatorColumns    = `id, email, name, password_hash, role, refresh_token_hash, refresh_token_expires_at, created_at`
	emailConstraint    = "ux_operators_email"
	selectOperatorFrom = `SELECT ` + operatorColumns + ` FROM operators`
)

func (s *PostgresStore) Create(ctx context.Context, op *models.Operator) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO operators (`+operatorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(op.ID),
		op.Email,
		op.Name,
		op.PasswordHash,
		op.Role,
		nullString(op.RefreshTokenHash),
		op.RefreshTokenExpiresAt,
		op.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	return s.findOne(ctx, "find operator by id", selectOperatorFrom+` WHERE id = $1`, uuid.UUID(operatorID))
}

func (s *PostgresStore) FindByEmail(ctx context.Context, addr string) (*models.Operator, error) {
	return s.findOne(ctx, "find operator by email", selectOperatorFrom+` WHERE email = $1`, addr)
}

func (s *PostgresStore) FindByRefreshTokenHash(ctx context.Context, hash string) (*models.Operator, error) {
	if hash == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.findOne(ctx, "find operator by refresh token", selectOperatorFrom+` WHERE refresh_token_hash = $1`, hash)
}

func (s *PostgresStore) findOne(ctx context.Context, op, query string, arg any) (*models.Operator, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, arg)
	operator, err := scanOperator(row)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return operator, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Operator, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, selectOperatorFrom+` ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var out []*models.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operators: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Update(ctx context.Context, op *models.Operator) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE operators
		SET email = $2, name = $3, password_hash = $4, role = $5
		WHERE id = $1`,
		uuid.UUID(op.ID),
		op.Email,
		op.Name,
		op.PasswordHash,
		op.Role,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, emailConstraint) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update operator: %w", err)
	}
	return requireRow(res, "update operator")
}

func (s *PostgresStore) SetRefreshToken(ctx context.Context, operatorID id.OperatorID, hash string, expiresAt *time.Time) error {
	if hash == "" {
		expiresAt = nil
	}
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE operators
		SET refresh_token_hash = $2, refresh_token_expires_at = $3
		WHERE id = $1`,
		uuid.UUID(operatorID),
		nullString(hash),
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	return requireRow(res, "set refresh token")
}

func (s *PostgresStore) ReplaceRefreshToken(ctx context.Context, operatorID id.OperatorID, oldHash, newHash string, expiresAt time.Time) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE operators
		SET refresh_token_hash = $3, refresh_token_expires_at = $4
		WHERE id = $1 AND refresh_token_hash = $2`,
		uuid.UUID(operatorID),
		oldHash,
		newHash,
		expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, operatorID id.OperatorID) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `DELETE FROM operators WHERE id = $1`, uuid.UUID(operatorID))
	if err != nil {
		return fmt.Errorf("delete operator: %w", err)
	}
	return requireRow(res, "delete operator")
}

func (s *PostgresStore) EmailsByID(ctx context.Context, ids []id.OperatorID) (map[id.OperatorID]string, error) {
	out := make(map[id.OperatorID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]string, len(ids))
	for i, operatorID := range ids {
		raw[i] = operatorID.String()
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT id, email FROM operators WHERE id = ANY($1::uuid[])`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("resolve operator emails: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			operatorID uuid.UUID
			addr       string
		)
		if err := rows.Scan(&operatorID, &addr); err != nil {
			return nil, fmt.Errorf("scan operator email: %w", err)
		}
		out[id.OperatorID(operatorID)] = addr
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve operator emails: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperator(row scanner) (*models.Operator, error) {
	var (
		operatorID   uuid.UUID
		refreshHash  sql.NullString
		refreshUntil sql.NullTime
		createdAt    time.Time
		op           models.Operator
	)
	err := row.Scan(&operatorID, &op.Email, &op.Name, &op.PasswordHash, &op.Role, &refreshHash, &refreshUntil, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	op.ID = id.OperatorID(operatorID)
	op.RefreshTokenHash = refreshHash.String
	if refreshUntil.Valid {
		exp := refreshUntil.Time.UTC()
		op.RefreshTokenExpiresAt = &exp
	}
	op.CreatedAt = createdAt.UTC()
	return &op, nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
