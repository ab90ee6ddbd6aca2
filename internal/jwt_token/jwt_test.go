package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/clock"
)

var subject = Subject{
	OperatorID: id.NewOperatorID(),
	Email:      "ana@site.co",
	Name:       "Ana",
	Role:       "operador",
}

func newService(c clock.Clock) *JWTService {
	return NewJWTService("test-signing-key", "test-issuer", "test-audience", 2*time.Hour, WithClock(c))
}

func Test_GenerateAccessToken(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	svc := newService(clock.NewManual(now))

	tok, err := svc.GenerateAccessToken(subject)
	require.NoError(t, err)
	require.NotEmpty(t, tok.Token)
	assert.NotEmpty(t, tok.JTI)
	assert.Equal(t, now.Add(2*time.Hour), tok.ExpiresAt)

	claims, err := svc.ValidateToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, subject.OperatorID.String(), claims.OperatorID)
	assert.Equal(t, "ana@site.co", claims.Subject)
	assert.Equal(t, "Ana", claims.Name)
	assert.Equal(t, "operador", claims.Role)
	assert.Equal(t, tok.JTI, claims.ID)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := newService(clock.System).ValidateToken("invalid-token-string")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	c := clock.NewManual(time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC))
	svc := newService(c)
	tok, err := svc.GenerateAccessToken(subject)
	require.NoError(t, err)

	c.Advance(2*time.Hour + time.Second)
	_, err = svc.ValidateToken(tok.Token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
}

func Test_ValidateToken_WrongAudienceOrKey(t *testing.T) {
	c := clock.System
	tok, err := NewJWTService("other-key", "test-issuer", "test-audience", time.Hour).GenerateAccessToken(subject)
	require.NoError(t, err)
	_, err = newService(c).ValidateToken(tok.Token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))

	tok, err = NewJWTService("test-signing-key", "test-issuer", "someone-else", time.Hour).GenerateAccessToken(subject)
	require.NoError(t, err)
	_, err = newService(c).ValidateToken(tok.Token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_AdapterMapsClaims(t *testing.T) {
	svc := newService(clock.System)
	tok, err := svc.GenerateAccessToken(subject)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(svc).ValidateToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, subject.OperatorID.String(), claims.OperatorID)
	assert.Equal(t, subject.Email, claims.Email)
	assert.Equal(t, tok.JTI, claims.JTI)
	assert.WithinDuration(t, tok.ExpiresAt, claims.ExpiresAt, time.Second)
}
