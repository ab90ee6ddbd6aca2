// Package models holds operator accounts: the staff who register visits and
// administer the register.
package models

import (
	"strings"
	"time"

	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/email"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operador"
)

// Roles lists every role an operator can hold.
var Roles = []string{RoleAdmin, RoleOperator}

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleOperator
}

// Operator is a login account. PasswordHash and RefreshTokenHash never leave
// the service layer.
type Operator struct {
	ID           id.OperatorID
	Email        string
	Name         string
	PasswordHash string
	Role         string
	CreatedAt    time.Time

	// RefreshTokenHash is the sha256 of the single live refresh token; empty
	// after logout.
	RefreshTokenHash      string
	RefreshTokenExpiresAt *time.Time
}

// NewOperator builds an account from already validated input. A blank name
// is derived from the email.
func NewOperator(operatorID id.OperatorID, addr, name, passwordHash, role string, now time.Time) (*Operator, error) {
	if operatorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "operator id is required")
	}
	addr = email.Normalize(addr)
	if addr == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "operator email is required")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "operator password hash is required")
	}
	if role == "" {
		role = RoleOperator
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email.DisplayName(addr)
	}
	return &Operator{
		ID:           operatorID,
		Email:        addr,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now.UTC(),
	}, nil
}

func (o *Operator) IsAdmin() bool {
	return o.Role == RoleAdmin
}

// RefreshTokenValid reports whether hash is the live refresh token at now.
func (o *Operator) RefreshTokenValid(hash string, now time.Time) bool {
	if o.RefreshTokenHash == "" || o.RefreshTokenHash != hash || o.RefreshTokenExpiresAt == nil {
		return false
	}
	return now.Before(*o.RefreshTokenExpiresAt)
}
