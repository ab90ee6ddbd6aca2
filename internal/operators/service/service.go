// Package service manages operator accounts: creation, sparse edits,
// password changes and the bootstrap administrator.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,AuditPublisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatehouse/internal/operators/models"
	"gatehouse/internal/operators/secrets"
	"gatehouse/internal/platform/metrics"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/clock"
	"gatehouse/pkg/platform/sentinel"
	"gatehouse/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, op *models.Operator) error
	FindByID(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error)
	FindByEmail(ctx context.Context, email string) (*models.Operator, error)
	List(ctx context.Context) ([]*models.Operator, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, op *models.Operator) error
	SetRefreshToken(ctx context.Context, operatorID id.OperatorID, hash string, expiresAt *time.Time) error
	Delete(ctx context.Context, operatorID id.OperatorID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

var (
	errOperatorNotFound = dErrors.New(dErrors.CodeNotFound, "operator not found")
	errEmailTaken       = dErrors.New(dErrors.CodeConflict, "an operator with that email already exists")
	errWrongPassword    = dErrors.New(dErrors.CodeBadRequest, "current password is incorrect")
	errDeleteSelf       = dErrors.New(dErrors.CodeBadRequest, "operators cannot delete their own account")
)

type Service struct {
	store          Store
	auditPublisher AuditPublisher
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

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("operator store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		clock:  clock.System,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Create(ctx context.Context, req *models.CreateRequest) (*models.Operator, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.FindByEmail(ctx, req.Email); err == nil {
		return nil, errEmailTaken
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check email")
	}

	hash, err := secrets.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	op, err := models.NewOperator(id.NewOperatorID(), req.Email, req.Name, hash, req.Role, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, op); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, errEmailTaken
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create operator")
	}

	s.metrics.IncrementOperatorsCreated()
	s.logger.InfoContext(ctx, "operator created",
		"operator_id", op.ID.String(),
		"role", op.Role,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.ActionUserCreated, op.ID, map[string]any{"email": op.Email, "role": op.Role})
	return op, nil
}

func (s *Service) List(ctx context.Context) ([]*models.Operator, error) {
	ops, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list operators")
	}
	return ops, nil
}

func (s *Service) Get(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	op, err := s.store.FindByID(ctx, operatorID)
	if err != nil {
		return nil, s.lookupError(err)
	}
	return op, nil
}

// Update applies the non-blank fields of req.
func (s *Service) Update(ctx context.Context, operatorID id.OperatorID, req *models.UpdateRequest) (*models.Operator, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	op, err := s.store.FindByID(ctx, operatorID)
	if err != nil {
		return nil, s.lookupError(err)
	}

	changed := map[string]any{}
	if req.Email != "" && req.Email != op.Email {
		other, err := s.store.FindByEmail(ctx, req.Email)
		switch {
		case err == nil && other.ID != op.ID:
			return nil, errEmailTaken
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check email")
		}
		op.Email = req.Email
		changed["email"] = req.Email
	}
	if req.Name != "" && req.Name != op.Name {
		op.Name = req.Name
		changed["nombre"] = req.Name
	}
	if req.Role != "" && req.Role != op.Role {
		op.Role = req.Role
		changed["role"] = req.Role
	}
	if req.Password != "" {
		hash, err := secrets.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		op.PasswordHash = hash
		changed["password"] = true
	}
	if len(changed) == 0 {
		return op, nil
	}

	if err := s.store.Update(ctx, op); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			return nil, errEmailTaken
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, errOperatorNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update operator")
	}
	s.emit(ctx, audit.ActionUserUpdated, op.ID, changed)
	return op, nil
}

// ChangePassword lets an operator replace their own password after proving
// they know the current one.
func (s *Service) ChangePassword(ctx context.Context, operatorID id.OperatorID, req *models.ChangePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	op, err := s.store.FindByID(ctx, operatorID)
	if err != nil {
		return s.lookupError(err)
	}
	if err := secrets.VerifyPassword(req.CurrentPassword, op.PasswordHash); err != nil {
		if errors.Is(err, secrets.ErrMismatch) {
			return errWrongPassword
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}
	if err := s.setPassword(ctx, op, req.NewPassword); err != nil {
		return err
	}
	s.emit(ctx, audit.ActionPasswordChanged, op.ID, map[string]any{"email": op.Email})
	return nil
}

// ResetPassword sets a new password for another operator and ends their
// session. When req carries no password a temporary one is generated and
// returned; otherwise the returned string is empty.
func (s *Service) ResetPassword(ctx context.Context, operatorID id.OperatorID, req *models.ResetPasswordRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	op, err := s.store.FindByID(ctx, operatorID)
	if err != nil {
		return "", s.lookupError(err)
	}

	password, temporary := req.NewPassword, ""
	if password == "" {
		if password, err = secrets.TemporaryPassword(); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate password")
		}
		temporary = password
	}
	if err := s.setPassword(ctx, op, password); err != nil {
		return "", err
	}
	if err := s.store.SetRefreshToken(ctx, op.ID, "", nil); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to clear refresh token after reset",
			"operator_id", op.ID.String(),
			"error", err,
		)
	}
	s.emit(ctx, audit.ActionUserPasswordReset, op.ID, map[string]any{"email": op.Email})
	return temporary, nil
}

func (s *Service) setPassword(ctx context.Context, op *models.Operator, password string) error {
	hash, err := secrets.HashPassword(password)
	if err != nil {
		return err
	}
	op.PasswordHash = hash
	if err := s.store.Update(ctx, op); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return errOperatorNotFound
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update password")
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, operatorID id.OperatorID) error {
	if current, ok := requestcontext.CurrentOperator(ctx); ok && current.ID == operatorID {
		return errDeleteSelf
	}
	op, err := s.store.FindByID(ctx, operatorID)
	if err != nil {
		return s.lookupError(err)
	}
	if err := s.store.Delete(ctx, operatorID); err != nil {
		return s.lookupError(err)
	}
	s.logger.InfoContext(ctx, "operator deleted",
		"operator_id", operatorID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.ActionUserDeleted, operatorID, map[string]any{"email": op.Email})
	return nil
}

// EnsureBootstrapAdmin creates the first administrator when no operator
// exists yet. It reports whether an account was created.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, email, password string) (bool, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count operators")
	}
	if n > 0 {
		return false, nil
	}
	op, err := s.Create(ctx, &models.CreateRequest{
		Email:    email,
		Password: password,
		Role:     models.RoleAdmin,
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return false, nil
		}
		return false, err
	}
	s.logger.WarnContext(ctx, "bootstrap administrator created; change its password",
		"operator_id", op.ID.String(),
		"email", op.Email,
	)
	return true, nil
}

func (s *Service) lookupError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return errOperatorNotFound
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load operator")
}

func (s *Service) emit(ctx context.Context, action audit.Action, operatorID id.OperatorID, data any) {
	if s.auditPublisher == nil {
		return
	}
	entry := audit.NewEntry(ctx, action, audit.EntityUser, operatorID.String(), data)
	if err := s.auditPublisher.Emit(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit entry",
			"action", string(action),
			"error", err,
		)
	}
}
