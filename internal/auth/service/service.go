// Package service issues and revokes operator credentials: password login,
// refresh-token rotation, logout and the current-operator lookup.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks OperatorStore,TokenIssuer,RevocationList,AuditPublisher,Lockout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gatehouse/internal/auth/models"
	jwttoken "gatehouse/internal/jwt_token"
	operators "gatehouse/internal/operators/models"
	"gatehouse/internal/operators/secrets"
	"gatehouse/internal/platform/metrics"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/clock"
	"gatehouse/pkg/platform/sentinel"
	"gatehouse/pkg/requestcontext"
)

type OperatorStore interface {
	FindByID(ctx context.Context, operatorID id.OperatorID) (*operators.Operator, error)
	FindByEmail(ctx context.Context, email string) (*operators.Operator, error)
	FindByRefreshTokenHash(ctx context.Context, hash string) (*operators.Operator, error)
	SetRefreshToken(ctx context.Context, operatorID id.OperatorID, hash string, expiresAt *time.Time) error
	ReplaceRefreshToken(ctx context.Context, operatorID id.OperatorID, oldHash, newHash string, expiresAt time.Time) error
}

type TokenIssuer interface {
	GenerateAccessToken(sub jwttoken.Subject) (*jwttoken.AccessToken, error)
}

// RevocationList remembers logged-out access tokens until they expire.
type RevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Lockout refuses logins after repeated failures for one email and address.
type Lockout interface {
	Check(ctx context.Context, email, ip string) error
	RecordFailure(ctx context.Context, email, ip string)
	Clear(ctx context.Context, email, ip string)
}

// RevocationFailureMode decides what logout does when the access token
// cannot be added to the revocation list.
type RevocationFailureMode string

const (
	RevocationFailureWarn RevocationFailureMode = "warn"
	RevocationFailureFail RevocationFailureMode = "fail"
)

const defaultRefreshTTL = 7 * 24 * time.Hour

var (
	errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	errInvalidRefresh     = dErrors.New(dErrors.CodeUnauthorized, "invalid or expired refresh token")
	errNotAuthenticated   = dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	errUnknownOperator    = dErrors.New(dErrors.CodeUnauthorized, "operator not found")
)

// dummyHash keeps unknown-email logins as slow as wrong-password ones.
var dummyHash = sync.OnceValue(func() string {
	hash, _ := secrets.HashPassword("gatehouse-unknown-operator")
	return hash
})

type Service struct {
	operators   OperatorStore
	tokens      TokenIssuer
	revocations RevocationList

	refreshTTL     time.Duration
	failureMode    RevocationFailureMode
	auditPublisher AuditPublisher
	lockout        Lockout
	logger         *slog.Logger
	metrics        *metrics.Metrics
	clock          clock.Clock
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithLockout(l Lockout) Option {
	return func(s *Service) {
		s.lockout = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

func WithRevocationFailureMode(mode RevocationFailureMode) Option {
	return func(s *Service) {
		s.failureMode = mode
	}
}

func New(operatorStore OperatorStore, tokens TokenIssuer, revocations RevocationList, opts ...Option) (*Service, error) {
	if operatorStore == nil || tokens == nil || revocations == nil {
		return nil, errors.New("operator store, token issuer and revocation list are required")
	}
	s := &Service{
		operators:   operatorStore,
		tokens:      tokens,
		revocations: revocations,
		refreshTTL:  defaultRefreshTTL,
		failureMode: RevocationFailureWarn,
		logger:      slog.New(slog.DiscardHandler),
		clock:       clock.System,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login checks the password and starts a session: a fresh access token and
// a refresh token that replaces any previous one.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ip := requestcontext.ClientIP(ctx)
	if s.lockout != nil {
		if err := s.lockout.Check(ctx, req.Email, ip); err != nil {
			s.logger.WarnContext(ctx, "login refused while locked",
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, err
		}
	}

	op, err := s.operators.FindByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		_ = secrets.VerifyPassword(req.Password, dummyHash())
		return nil, s.loginFailed(ctx, req.Email, nil, "unknown_email")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load operator")
	}
	if err := secrets.VerifyPassword(req.Password, op.PasswordHash); err != nil {
		if !errors.Is(err, secrets.ErrMismatch) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
		}
		return nil, s.loginFailed(ctx, req.Email, &op.ID, "wrong_password")
	}

	result, refreshHash, err := s.issue(op)
	if err != nil {
		return nil, err
	}
	exp := result.RefreshTokenExpiresAt
	if err := s.operators.SetRefreshToken(ctx, op.ID, refreshHash, &exp); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store refresh token")
	}

	if s.lockout != nil {
		s.lockout.Clear(ctx, req.Email, ip)
	}
	s.logger.InfoContext(ctx, "operator logged in",
		"operator_id", op.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.ActionLoginSucceeded, op.ID, map[string]any{"email": op.Email})
	return result, nil
}

func (s *Service) loginFailed(ctx context.Context, addr string, operatorID *id.OperatorID, reason string) error {
	s.metrics.IncrementLoginFailures()
	if s.lockout != nil {
		s.lockout.RecordFailure(ctx, addr, requestcontext.ClientIP(ctx))
	}
	s.logger.WarnContext(ctx, "login failed",
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	entry := audit.NewEntry(ctx, audit.ActionLoginFailed, audit.EntityUser, "", map[string]any{"email": addr})
	if operatorID != nil {
		entry.EntityID = operatorID.String()
	}
	s.publish(ctx, entry)
	return errInvalidCredentials
}

// Refresh exchanges a live refresh token for a new token pair. The old
// refresh token stops working.
func (s *Service) Refresh(ctx context.Context, req *models.RefreshRequest) (*models.TokenResult, error) {
	if req.RefreshToken == "" {
		return nil, errInvalidRefresh
	}
	oldHash := secrets.HashToken(req.RefreshToken)
	op, err := s.operators.FindByRefreshTokenHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errInvalidRefresh
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load refresh token")
	}
	if !op.RefreshTokenValid(oldHash, s.clock.Now()) {
		return nil, errInvalidRefresh
	}

	result, newHash, err := s.issue(op)
	if err != nil {
		return nil, err
	}
	if err := s.operators.ReplaceRefreshToken(ctx, op.ID, oldHash, newHash, result.RefreshTokenExpiresAt); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) || errors.Is(err, sentinel.ErrNotFound) {
			return nil, errInvalidRefresh
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rotate refresh token")
	}
	s.emit(ctx, audit.ActionTokenRefreshed, op.ID, nil)
	return result, nil
}

func (s *Service) issue(op *operators.Operator) (*models.TokenResult, string, error) {
	access, err := s.tokens.GenerateAccessToken(jwttoken.Subject{
		OperatorID: op.ID,
		Email:      op.Email,
		Name:       op.Name,
		Role:       op.Role,
	})
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign access token")
	}
	refresh, err := secrets.GenerateToken()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate refresh token")
	}
	return &models.TokenResult{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: s.clock.Now().Add(s.refreshTTL),
		Email:                 op.Email,
		Role:                  op.Role,
	}, secrets.HashToken(refresh), nil
}

// Logout ends the caller's session: the refresh token is cleared and the
// presented access token is revoked for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context) error {
	current, ok := requestcontext.CurrentOperator(ctx)
	if !ok {
		return errNotAuthenticated
	}
	if err := s.operators.SetRefreshToken(ctx, current.ID, "", nil); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return errUnknownOperator
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear refresh token")
	}

	if token, ok := requestcontext.AccessToken(ctx); ok && token.JTI != "" {
		ttl := token.ExpiresAt.Sub(s.clock.Now())
		if ttl > 0 {
			if err := s.revocations.RevokeToken(ctx, token.JTI, ttl); err != nil {
				s.logger.ErrorContext(ctx, "failed to add token to revocation list",
					"error", err,
					"jti", token.JTI,
				)
				if s.failureMode == RevocationFailureFail {
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke access token")
				}
			}
		}
	}

	s.emit(ctx, audit.ActionLogout, current.ID, nil)
	return nil
}

// Me returns the account behind the current access token.
func (s *Service) Me(ctx context.Context) (*operators.Operator, error) {
	current, ok := requestcontext.CurrentOperator(ctx)
	if !ok {
		return nil, errNotAuthenticated
	}
	op, err := s.operators.FindByID(ctx, current.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errUnknownOperator
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load operator")
	}
	return op, nil
}

// IsTokenRevoked satisfies the auth middleware's revocation check.
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revocations.IsRevoked(ctx, jti)
}

func (s *Service) emit(ctx context.Context, action audit.Action, operatorID id.OperatorID, data any) {
	entry := audit.NewEntry(ctx, action, audit.EntityUser, operatorID.String(), data)
	if entry.ActorID == nil {
		actor := operatorID
		entry.ActorID = &actor
	}
	s.publish(ctx, entry)
}

func (s *Service) publish(ctx context.Context, entry audit.Entry) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit entry",
			"action", string(entry.Action),
			"error", err,
		)
	}
}
