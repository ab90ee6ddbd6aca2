package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks IdentityStore,VisitStore,ActiveIndex,PhotoStorage,OperatorDirectory,AuditPublisher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	identity "gatehouse/internal/identity/models"
	"gatehouse/internal/photos"
	"gatehouse/internal/platform/metrics"
	"gatehouse/internal/visits/models"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/clock"
	"gatehouse/pkg/platform/sentinel"
	"gatehouse/pkg/requestcontext"
)

type IdentityStore interface {
	FindByDocument(ctx context.Context, documentID string) (*identity.Identity, error)
	Create(ctx context.Context, ident *identity.Identity) error
	Update(ctx context.Context, ident *identity.Identity) error
}

type VisitStore interface {
	Create(ctx context.Context, v *models.Visit) error
	FindByID(ctx context.Context, visitID id.VisitID) (*models.Visit, error)
	FindLatestByDocument(ctx context.Context, documentID string) (*models.Visit, error)
	CheckOut(ctx context.Context, visitID id.VisitID, at time.Time) (*models.Visit, error)
	Update(ctx context.Context, v *models.Visit) error
	List(ctx context.Context, f models.Filter) ([]*models.Visit, int, error)
	ListAll(ctx context.Context, f models.Filter) ([]*models.Visit, error)
}

// ActiveIndex answers whether a document has an open visit.
type ActiveIndex interface {
	GetActiveVisit(ctx context.Context, documentID string) (*models.Visit, error)
	HasActiveVisit(ctx context.Context, documentID string) (bool, error)
}

type PhotoStorage interface {
	Save(ctx context.Context, name string, p photos.Photo) (string, error)
	Delete(ctx context.Context, ref string) error
}

// OperatorDirectory resolves the operators recorded on visits for exports.
type OperatorDirectory interface {
	EmailsByID(ctx context.Context, ids []id.OperatorID) (map[id.OperatorID]string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// VisitTx serializes units of work per key. The keys are document ids; every
// read-then-write on the ledger for a document runs inside RunInTx for it.
type VisitTx interface {
	RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

var (
	errOpenVisit       = dErrors.New(dErrors.CodeConflict, "person already has an open visit")
	errAlreadyCheckout = dErrors.New(dErrors.CodeConflict, "checkout already recorded")
	errVisitNotFound   = dErrors.New(dErrors.CodeNotFound, "visit not found")
	errNoOpenVisit     = dErrors.New(dErrors.CodeNotFound, "no open visit for document")
	errVisitChanged    = dErrors.New(dErrors.CodeConflict, "visit changed concurrently, retry the update")

	errVisitMoved = errors.New("visit moved to another document")
)

const updateAttempts = 3

// Service runs the check-in/check-out workflow and the reporting reads.
type Service struct {
	identities IdentityStore
	visits     VisitStore
	index      ActiveIndex
	photos     PhotoStorage
	operators  OperatorDirectory
	tx         VisitTx

	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
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

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithTx replaces the in-process per-document locks, e.g. with a Postgres
// transaction runner.
func WithTx(tx VisitTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithOperatorDirectory(dir OperatorDirectory) Option {
	return func(s *Service) {
		s.operators = dir
	}
}

func New(identities IdentityStore, visits VisitStore, index ActiveIndex, photoStorage PhotoStorage, opts ...Option) (*Service, error) {
	if identities == nil || visits == nil || index == nil {
		return nil, errors.New("identity store, visit store and active index are required")
	}
	if photoStorage == nil {
		return nil, errors.New("photo storage is required")
	}
	s := &Service{
		identities: identities,
		visits:     visits,
		index:      index,
		photos:     photoStorage,
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer("gatehouse/visits"),
		clock:      clock.System,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = NewShardedTx()
	}
	return s, nil
}

// CheckIn opens a visit for the person described by req. The photo is
// stored first; if the check-in is rejected afterwards it is removed again.
func (s *Service) CheckIn(ctx context.Context, req *models.CheckInRequest) (*models.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "visits.CheckIn")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	photo, err := photos.Decode(req.Photo)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("photo.bytes", len(photo.Data)))

	// Cheap rejection before touching photo storage. The authoritative
	// check runs again under the document lock.
	open, err := s.index.HasActiveVisit(ctx, req.DocumentID)
	if err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open visits"))
	}
	if open {
		s.metrics.IncrementCheckInConflicts()
		return nil, errOpenVisit
	}

	now := s.clock.Now()
	ref, err := s.photos.Save(ctx, photos.FileName(req.DocumentID, photo, now), photo)
	if err != nil {
		return nil, s.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store photo"))
	}
	s.metrics.ObservePhotoBytes(len(photo.Data))

	var recordedBy *id.OperatorID
	if op, ok := requestcontext.CurrentOperator(ctx); ok && !op.ID.IsNil() {
		opID := op.ID
		recordedBy = &opID
	}

	var visit *models.Visit
	err = s.tx.RunInTx(ctx, []string{req.DocumentID}, func(ctx context.Context) error {
		open, err := s.index.HasActiveVisit(ctx, req.DocumentID)
		if err != nil {
			return err
		}
		if open {
			return errOpenVisit
		}
		ident, err := s.upsertIdentity(ctx, req.DocumentID, identity.Profile{
			GivenName:  req.GivenName,
			FamilyName: req.FamilyName,
			Category:   req.Category,
			PhotoRef:   ref,
		}, now)
		if err != nil {
			return err
		}
		v, err := models.NewVisit(id.NewVisitID(), ident, req.Destination, req.Reason, recordedBy, now)
		if err != nil {
			return err
		}
		if err := s.visits.Create(ctx, v); err != nil {
			return err
		}
		visit = v
		return nil
	})
	if err != nil {
		s.discardPhoto(ctx, ref)
		if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, errOpenVisit) {
			s.metrics.IncrementCheckInConflicts()
			return nil, errOpenVisit
		}
		return nil, s.fail(span, s.storageError(err, "failed to record check-in"))
	}

	span.SetAttributes(attribute.String("visit.id", visit.ID.String()))
	s.metrics.IncrementCheckIns()
	s.logger.InfoContext(ctx, "visit checked in",
		"visit_id", visit.ID.String(),
		"identity_id", visit.IdentityID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.ActionVisitCreated, visit.ID.String(), map[string]any{
		"documento": visit.DocumentID,
		"destino":   visit.Destination,
	})
	return visit, nil
}

// upsertIdentity returns the identity for documentID, creating it on first
// sight and otherwise applying the supplied profile fields. A create that
// loses a race to another writer is retried once as an update.
func (s *Service) upsertIdentity(ctx context.Context, documentID string, p identity.Profile, now time.Time) (*identity.Identity, error) {
	var lastErr error
	for range 2 {
		existing, err := s.identities.FindByDocument(ctx, documentID)
		switch {
		case err == nil:
			if existing.ApplyProfile(p) {
				if err := s.identities.Update(ctx, existing); err != nil {
					return nil, err
				}
			}
			return existing, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return nil, err
		}

		ident, err := identity.NewIdentity(id.NewIdentityID(), documentID, p, now)
		if err != nil {
			return nil, err
		}
		lastErr = s.identities.Create(ctx, ident)
		if lastErr == nil {
			return ident, nil
		}
		if !errors.Is(lastErr, sentinel.ErrConflict) {
			return nil, lastErr
		}
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeInternal, "identity changed concurrently")
}

// CheckOut closes the visit. The first recorded exit time wins.
func (s *Service) CheckOut(ctx context.Context, visitID id.VisitID) (*models.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "visits.CheckOut", trace.WithAttributes(attribute.String("visit.id", visitID.String())))
	defer span.End()

	v, err := s.visits.CheckOut(ctx, visitID, s.clock.Now())
	if err != nil {
		return nil, s.fail(span, s.checkOutError(err))
	}
	s.checkedOut(ctx, v)
	return v, nil
}

// CheckOutByDocument closes the open visit of the person with documentID.
func (s *Service) CheckOutByDocument(ctx context.Context, documentID string) (*models.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "visits.CheckOutByDocument")
	defer span.End()

	if documentID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "documento is required")
	}
	var visit *models.Visit
	err := s.tx.RunInTx(ctx, []string{documentID}, func(ctx context.Context) error {
		active, err := s.index.GetActiveVisit(ctx, documentID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return errNoOpenVisit
			}
			return err
		}
		v, err := s.visits.CheckOut(ctx, active.ID, s.clock.Now())
		if err != nil {
			return s.checkOutError(err)
		}
		visit = v
		return nil
	})
	if err != nil {
		return nil, s.fail(span, s.storageError(err, "failed to record checkout"))
	}
	s.checkedOut(ctx, visit)
	return visit, nil
}

func (s *Service) checkOutError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return errVisitNotFound
	case errors.Is(err, sentinel.ErrInvalidState):
		return errAlreadyCheckout
	default:
		return s.storageError(err, "failed to record checkout")
	}
}

func (s *Service) checkedOut(ctx context.Context, v *models.Visit) {
	s.metrics.IncrementCheckOuts()
	s.logger.InfoContext(ctx, "visit checked out",
		"visit_id", v.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.ActionVisitCheckout, v.ID.String(), map[string]any{
		"documento":  v.DocumentID,
		"horaSalida": v.CheckOutAtUTC,
	})
}

// Update applies a sparse correction to a visit. Moving an open visit onto a
// document that already has an open visit is rejected.
func (s *Service) Update(ctx context.Context, visitID id.VisitID, req *models.UpdateRequest) (*models.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "visits.Update", trace.WithAttributes(attribute.String("visit.id", visitID.String())))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	patch := req.Patch()
	var updated *models.Visit
	for range updateAttempts {
		v, err := s.updateLocked(ctx, visitID, patch)
		if errors.Is(err, errVisitMoved) {
			continue
		}
		if err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return nil, errOpenVisit
			}
			return nil, s.fail(span, s.storageError(err, "failed to update visit"))
		}
		updated = v
		break
	}
	if updated == nil {
		return nil, errVisitChanged
	}

	s.metrics.IncrementVisitsUpdated()
	s.emit(ctx, audit.ActionVisitUpdated, updated.ID.String(), patch)
	return updated, nil
}

// updateLocked applies patch while holding the locks of the visit's document
// and of the target document. The locks are chosen from a read taken before
// they are held, so errVisitMoved is returned when the visit changed document
// in between and the caller must start over.
func (s *Service) updateLocked(ctx context.Context, visitID id.VisitID, patch models.Patch) (*models.Visit, error) {
	current, err := s.visits.FindByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errVisitNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load visit")
	}
	keys := []string{current.DocumentID}
	if doc := strings.TrimSpace(patch.DocumentID); doc != "" && doc != current.DocumentID {
		keys = append(keys, doc)
	}

	var updated *models.Visit
	err = s.tx.RunInTx(ctx, keys, func(ctx context.Context) error {
		v, err := s.visits.FindByID(ctx, visitID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return errVisitNotFound
			}
			return err
		}
		if v.DocumentID != current.DocumentID {
			return errVisitMoved
		}
		if v.ApplyPatch(patch) && v.IsActive() {
			other, err := s.index.GetActiveVisit(ctx, v.DocumentID)
			switch {
			case err == nil && other.ID != v.ID:
				return errOpenVisit
			case err != nil && !errors.Is(err, sentinel.ErrNotFound):
				return err
			}
		}
		if err := s.visits.Update(ctx, v); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return errVisitNotFound
			}
			return err
		}
		updated = v
		return nil
	})
	return updated, err
}

// storageError passes domain errors through and hides everything else
// behind an internal error.
func (s *Service) storageError(err error, msg string) error {
	if _, ok := dErrors.From(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) fail(span trace.Span, err error) error {
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeTimeout) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failure")
	}
	return err
}

func (s *Service) discardPhoto(ctx context.Context, ref string) {
	if err := s.photos.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.WarnContext(ctx, "failed to remove photo of rejected check-in",
			"photo_ref", ref,
			"error", err,
		)
	}
}

func (s *Service) emit(ctx context.Context, action audit.Action, entityID string, data any) {
	if s.auditPublisher == nil {
		return
	}
	entry := audit.NewEntry(ctx, action, audit.EntityVisit, entityID, data)
	if err := s.auditPublisher.Emit(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit entry",
			"action", string(action),
			"error", err,
		)
	}
}
