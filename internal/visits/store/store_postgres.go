package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gatehouse/internal/platform/postgres"
	"gatehouse/internal/visits/models"
	id "gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
	txcontext "gatehouse/pkg/platform/tx"
)

// PostgresStore persists the ledger in the visits table. The partial unique
// index ux_visits_open_document backs the one-open-visit rule.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed visit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const visitColumns = `id, identity_id, given_name, family_name, document_id, category, photo_ref,
	destination, reason, check_in_at_utc, check_out_at_utc, recorded_by_operator_id`

func (s *PostgresStore) Create(ctx context.Context, v *models.Visit) error {
	var recordedBy *uuid.UUID
	if v.RecordedBy != nil {
		u := uuid.UUID(*v.RecordedBy)
		recordedBy = &u
	}
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO visits (`+visitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.UUID(v.ID),
		uuid.UUID(v.IdentityID),
		v.GivenName,
		v.FamilyName,
		v.DocumentID,
		v.Category,
		nullString(v.PhotoRef),
		v.Destination,
		nullString(v.Reason),
		v.CheckInAtUTC,
		v.CheckOutAtUTC,
		recordedBy,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, visitID id.VisitID) (*models.Visit, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE id = $1`, uuid.UUID(visitID))
	v, err := scanVisit(row)
	if err != nil {
		return nil, fmt.Errorf("find visit by id: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) FindActiveByDocument(ctx context.Context, documentID string) (*models.Visit, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE document_id = $1 AND check_out_at_utc IS NULL`, documentID)
	v, err := scanVisit(row)
	if err != nil {
		return nil, fmt.Errorf("find active visit: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) FindLatestByDocument(ctx context.Context, documentID string) (*models.Visit, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE document_id = $1
		ORDER BY check_in_at_utc DESC, id ASC LIMIT 1`, documentID)
	v, err := scanVisit(row)
	if err != nil {
		return nil, fmt.Errorf("find latest visit: %w", err)
	}
	return v, nil
}

// CheckOut is a compare-and-set on check_out_at_utc. When no row changes, a
// second query tells an unknown id (ErrNotFound) from a closed visit
// (ErrInvalidState).
func (s *PostgresStore) CheckOut(ctx context.Context, visitID id.VisitID, at time.Time) (*models.Visit, error) {
	q := txcontext.Executor(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		UPDATE visits SET check_out_at_utc = $2
		WHERE id = $1 AND check_out_at_utc IS NULL
		RETURNING `+visitColumns, uuid.UUID(visitID), at.UTC())
	v, err := scanVisit(row)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("check out visit: %w", err)
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM visits WHERE id = $1)`, uuid.UUID(visitID)).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check out visit: %w", err)
	}
	if exists {
		return nil, sentinel.ErrInvalidState
	}
	return nil, sentinel.ErrNotFound
}

func (s *PostgresStore) Update(ctx context.Context, v *models.Visit) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE visits
		SET given_name = $2, family_name = $3, document_id = $4, category = $5,
			destination = $6, reason = $7
		WHERE id = $1`,
		uuid.UUID(v.ID),
		v.GivenName,
		v.FamilyName,
		v.DocumentID,
		v.Category,
		v.Destination,
		nullString(v.Reason),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update visit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f models.Filter) ([]*models.Visit, int, error) {
	where, args := whereClause(f)
	q := txcontext.Executor(ctx, s.db)

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}
	if total == 0 {
		return []*models.Visit{}, 0, nil
	}

	args = append(args, f.PageSize, f.Offset())
	query := fmt.Sprintf(`SELECT %s FROM visits%s ORDER BY check_in_at_utc DESC, id ASC LIMIT $%d OFFSET $%d`,
		visitColumns, where, len(args)-1, len(args))
	visits, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits: %w", err)
	}
	return visits, total, nil
}

func (s *PostgresStore) ListAll(ctx context.Context, f models.Filter) ([]*models.Visit, error) {
	where, args := whereClause(f)
	visits, err := s.query(ctx, `SELECT `+visitColumns+` FROM visits`+where+` ORDER BY check_in_at_utc DESC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("export visits: %w", err)
	}
	return visits, nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Visit, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	visits := []*models.Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

// whereClause builds the filter predicate with positional arguments.
func whereClause(f models.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.GivenName != "" {
		add(`given_name ILIKE $%d ESCAPE '\'`, "%"+escapeLike(f.GivenName)+"%")
	}
	if f.FamilyName != "" {
		add(`family_name ILIKE $%d ESCAPE '\'`, "%"+escapeLike(f.FamilyName)+"%")
	}
	if f.DocumentID != "" {
		add(`document_id = $%d`, f.DocumentID)
	}
	if f.From != nil {
		add(`check_in_at_utc >= $%d`, f.From.UTC())
	}
	if f.Until != nil {
		add(`check_in_at_utc < $%d`, f.Until.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVisit(row scanner) (*models.Visit, error) {
	var (
		visitID, identityID uuid.UUID
		photoRef, reason    sql.NullString
		checkIn             time.Time
		checkOut            sql.NullTime
		recordedBy          uuid.NullUUID
		v                   models.Visit
	)
	err := row.Scan(&visitID, &identityID, &v.GivenName, &v.FamilyName, &v.DocumentID, &v.Category, &photoRef,
		&v.Destination, &reason, &checkIn, &checkOut, &recordedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	v.ID = id.VisitID(visitID)
	v.IdentityID = id.IdentityID(identityID)
	v.PhotoRef = photoRef.String
	v.Reason = reason.String
	v.CheckInAtUTC = checkIn.UTC()
	if checkOut.Valid {
		t := checkOut.Time.UTC()
		v.CheckOutAtUTC = &t
	}
	if recordedBy.Valid {
		op := id.OperatorID(recordedBy.UUID)
		v.RecordedBy = &op
	}
	return &v, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
