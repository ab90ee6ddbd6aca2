package models

import (
	"time"

	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/email"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Email = email.Normalize(r.Email)
}

func (r *LoginRequest) Validate() error {
	fields := dErrors.FieldErrors{}
	if r.Email == "" {
		fields.Add("email", "email is required")
	}
	if r.Password == "" {
		fields.Add("password", "password is required")
	}
	return fields.Err()
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenResult is what a successful login or refresh hands back. The refresh
// token is only ever returned here; the store keeps its hash.
type TokenResult struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Email                 string
	Role                  string
}
