package revocation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	upsertRevocationSQL = `INSERT INTO token_revocations (jti, expires_at) VALUES ($1, $2)
ON CONFLICT (jti) DO UPDATE SET expires_at = GREATEST(token_revocations.expires_at, EXCLUDED.expires_at)`
	revokedSQL = `SELECT EXISTS (SELECT 1 FROM token_revocations WHERE jti = $1 AND expires_at > $2)`
	purgeSQL   = `DELETE FROM token_revocations WHERE expires_at <= $1`
)

// PostgresTRL keeps revocations in the token_revocations table. Rows outlive
// their tokens until PurgeExpired removes them.
type PostgresTRL struct {
	db  *sql.DB
	now Clock
}

func NewPostgresTRL(db *sql.DB, now Clock) *PostgresTRL {
	if now == nil {
		now = time.Now
	}
	return &PostgresTRL{db: db, now: now}
}

func (t *PostgresTRL) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, upsertRevocationSQL, jti, t.now().Add(ttl).UTC()); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (t *PostgresTRL) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	var revoked bool
	if err := t.db.QueryRowContext(ctx, revokedSQL, jti, t.now().UTC()).Scan(&revoked); err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return revoked, nil
}

// PurgeExpired deletes rows whose tokens have expired and reports how many.
func (t *PostgresTRL) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := t.db.ExecContext(ctx, purgeSQL, t.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge token revocations: %w", err)
	}
	return res.RowsAffected()
}
