package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "gatehouse/pkg/domain"
	audit "gatehouse/pkg/platform/audit"
)

// Store persists audit entries in the audit_logs table.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts one entry. It always uses the pool rather than a caller's
// transaction: an entry must survive a rolled-back action it tried to log.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	if e.ID.IsNil() {
		e.ID = id.NewAuditEntryID()
	}
	var actor *uuid.UUID
	if e.ActorID != nil {
		u := uuid.UUID(*e.ActorID)
		actor = &u
	}
	var data any
	if len(e.Data) > 0 {
		data = []byte(e.Data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, entity, entity_id, data, actor_id, ip, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(e.ID),
		string(e.Action),
		e.Entity,
		nullString(e.EntityID),
		data,
		actor,
		nullString(e.IP),
		nullString(e.UserAgent),
		nullString(e.RequestID),
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	f.Normalize()
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != nil {
		add("actor_id = $%d", uuid.UUID(*f.ActorID))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.From != nil {
		add("created_at >= $%d", f.From.UTC())
	}
	if f.Until != nil {
		add("created_at <= $%d", f.Until.UTC())
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}
	if total == 0 {
		return []audit.Entry{}, 0, nil
	}

	args = append(args, f.PageSize, f.Offset())
	query := fmt.Sprintf(`
		SELECT id, action, entity, entity_id, data, actor_id, ip, user_agent, request_id, created_at
		FROM audit_logs%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e                                  audit.Entry
			entryID                            uuid.UUID
			action                             string
			entityID, ip, userAgent, requestID sql.NullString
			data                               []byte
			actor                              uuid.NullUUID
			createdAt                          time.Time
		)
		if err := rows.Scan(&entryID, &action, &e.Entity, &entityID, &data, &actor, &ip, &userAgent, &requestID, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = id.AuditEntryID(entryID)
		e.Action = audit.Action(action)
		e.EntityID = entityID.String
		e.Data = data
		if actor.Valid {
			op := id.OperatorID(actor.UUID)
			e.ActorID = &op
		}
		e.IP = ip.String
		e.UserAgent = userAgent.String
		e.RequestID = requestID.String
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, total, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
