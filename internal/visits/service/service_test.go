package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/mock/gomock"

	identity "gatehouse/internal/identity/models"
	"gatehouse/internal/photos"
	"gatehouse/internal/visits/models"
	"gatehouse/internal/visits/service/mocks"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/clock"
	"gatehouse/pkg/platform/sentinel"
)

type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	identities *mocks.MockIdentityStore
	visits     *mocks.MockVisitStore
	index      *mocks.MockActiveIndex
	photos     *mocks.MockPhotoStorage
	operators  *mocks.MockOperatorDirectory
	audit      *mocks.MockAuditPublisher
	now        time.Time
	service    *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.identities = mocks.NewMockIdentityStore(s.ctrl)
	s.visits = mocks.NewMockVisitStore(s.ctrl)
	s.index = mocks.NewMockActiveIndex(s.ctrl)
	s.photos = mocks.NewMockPhotoStorage(s.ctrl)
	s.operators = mocks.NewMockOperatorDirectory(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.now = time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

	var err error
	s.service, err = New(s.identities, s.visits, s.index, s.photos,
		WithClock(clock.Func(func() time.Time { return s.now })),
		WithAuditPublisher(s.audit),
		WithOperatorDirectory(s.operators),
		WithTracer(noop.NewTracerProvider().Tracer("test")),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) existing(doc string) *identity.Identity {
	ident, err := identity.NewIdentity(id.NewIdentityID(), doc, identity.Profile{GivenName: "Ana", FamilyName: "Gomez"}, s.now.Add(-24*time.Hour))
	s.Require().NoError(err)
	return ident
}

func (s *ServiceSuite) TestCheckIn() {
	req := func() *models.CheckInRequest { return checkIn("123", "Ana Maria") }

	s.Run("happy path stores photo, updates identity and emits audit", func() {
		ident := s.existing("123")
		s.index.EXPECT().HasActiveVisit(gomock.Any(), "123").Return(false, nil).Times(2)
		s.photos.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, name string, p photos.Photo) (string, error) {
				assert.Regexp(s.T(), `^123_20240510150000_[0-9a-f]{8}\.png$`, name)
				assert.Equal(s.T(), "image/png", p.ContentType)
				return "/uploads/personal/" + name, nil
			})
		s.identities.EXPECT().FindByDocument(gomock.Any(), "123").Return(ident, nil)
		s.identities.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, got *identity.Identity) error {
				assert.Equal(s.T(), "Ana Maria", got.GivenName)
				assert.Contains(s.T(), got.PhotoRef, "/uploads/personal/123_")
				return nil
			})
		s.visits.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e audit.Entry) error {
				assert.Equal(s.T(), audit.ActionVisitCreated, e.Action)
				assert.Equal(s.T(), audit.EntityVisit, e.Entity)
				return nil
			})

		v, err := s.service.CheckIn(context.Background(), req())
		s.Require().NoError(err)
		s.Equal(ident.ID, v.IdentityID)
		s.Equal("Ana Maria", v.GivenName)
		s.Equal(s.now, v.CheckInAtUTC)
		s.True(v.IsActive())
	})

	s.Run("open visit is rejected before the photo is stored", func() {
		s.index.EXPECT().HasActiveVisit(gomock.Any(), "123").Return(true, nil)

		_, err := s.service.CheckIn(context.Background(), req())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("race lost under the lock removes the stored photo", func() {
		gomock.InOrder(
			s.index.EXPECT().HasActiveVisit(gomock.Any(), "123").Return(false, nil),
			s.index.EXPECT().HasActiveVisit(gomock.Any(), "123").Return(true, nil),
		)
		s.photos.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Return("/uploads/personal/x.png", nil)
		s.photos.EXPECT().Delete(gomock.Any(), "/uploads/personal/x.png").Return(nil)

		_, err := s.service.CheckIn(context.Background(), req())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("ledger unique violation maps to conflict", func() {
		s.index.EXPECT().HasActiveVisit(gomock.Any(), "123").Return(false, nil).Times(2)
		s.photos.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Return("/p.png", nil)
		s.identities.EXPECT().FindByDocument(gomock.Any(), "123").Return(s.existing("123"), nil)
		s.identities.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
		s.visits.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)
		s.photos.EXPECT().Delete(gomock.Any(), "/p.png").Return(errors.New("gone"))

		_, err := s.service.CheckIn(context.Background(), req())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "open visit")
	})

	s.Run("photo storage failure is internal", func() {
		s.index.EXPECT().HasActiveVisit(gomock.Any(), "123").Return(false, nil)
		s.photos.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("disk full"))

		_, err := s.service.CheckIn(context.Background(), req())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("identity create race retries as update", func() {
		ident := s.existing("123")
		s.index.EXPECT().HasActiveVisit(gomock.Any(), "123").Return(false, nil).Times(2)
		s.photos.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Return("/p.png", nil)
		gomock.InOrder(
			s.identities.EXPECT().FindByDocument(gomock.Any(), "123").Return(nil, sentinel.ErrNotFound),
			s.identities.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict),
			s.identities.EXPECT().FindByDocument(gomock.Any(), "123").Return(ident, nil),
			s.identities.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil),
		)
		s.visits.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		v, err := s.service.CheckIn(context.Background(), req())
		s.Require().NoError(err)
		s.Equal(ident.ID, v.IdentityID)
	})

	s.Run("audit failure does not fail the check-in", func() {
		s.index.EXPECT().HasActiveVisit(gomock.Any(), "123").Return(false, nil).Times(2)
		s.photos.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Return("/p.png", nil)
		s.identities.EXPECT().FindByDocument(gomock.Any(), "123").Return(nil, sentinel.ErrNotFound)
		s.identities.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.visits.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit buffer full"))

		_, err := s.service.CheckIn(context.Background(), req())
		s.NoError(err)
	})

	s.Run("validation lists every missing field", func() {
		_, err := s.service.CheckIn(context.Background(), &models.CheckInRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		fields := dErrors.Fields(err)
		for _, f := range []string{"nombre", "apellido", "documento", "destino", "foto"} {
			s.Contains(fields, f)
		}
	})
}

func (s *ServiceSuite) TestCheckOut() {
	visitID := id.NewVisitID()

	s.Run("already closed", func() {
		s.visits.EXPECT().CheckOut(gomock.Any(), visitID, s.now).Return(nil, sentinel.ErrInvalidState)
		_, err := s.service.CheckOut(context.Background(), visitID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "checkout already recorded")
	})

	s.Run("unknown", func() {
		s.visits.EXPECT().CheckOut(gomock.Any(), visitID, s.now).Return(nil, sentinel.ErrNotFound)
		_, err := s.service.CheckOut(context.Background(), visitID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("driver failure is internal", func() {
		s.visits.EXPECT().CheckOut(gomock.Any(), visitID, s.now).Return(nil, errors.New("connection reset"))
		_, err := s.service.CheckOut(context.Background(), visitID)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("success emits audit", func() {
		out := s.now
		s.visits.EXPECT().CheckOut(gomock.Any(), visitID, s.now).Return(&models.Visit{ID: visitID, CheckOutAtUTC: &out}, nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) error {
			s.Equal(audit.ActionVisitCheckout, e.Action)
			s.Equal(visitID.String(), e.EntityID)
			return nil
		})
		v, err := s.service.CheckOut(context.Background(), visitID)
		s.Require().NoError(err)
		s.Equal(out, *v.CheckOutAtUTC)
	})
}

type recordingTx struct {
	inner VisitTx
	keys  [][]string
}

func (r *recordingTx) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	r.keys = append(r.keys, append([]string(nil), keys...))
	return r.inner.RunInTx(ctx, keys, fn)
}

func (s *ServiceSuite) TestUpdateRelocksWhenDocumentMoves() {
	visitID := id.NewVisitID()
	onDoc := func(doc string) func(context.Context, id.VisitID) (*models.Visit, error) {
		return func(context.Context, id.VisitID) (*models.Visit, error) {
			return &models.Visit{ID: visitID, DocumentID: doc, GivenName: "Ana", CheckInAtUTC: s.now}, nil
		}
	}

	s.Run("locks follow the document seen under the lock", func() {
		tx := &recordingTx{inner: NewShardedTx()}
		s.service.tx = tx
		gomock.InOrder(
			s.visits.EXPECT().FindByID(gomock.Any(), visitID).DoAndReturn(onDoc("A-1")),
			s.visits.EXPECT().FindByID(gomock.Any(), visitID).DoAndReturn(onDoc("B-2")),
			s.visits.EXPECT().FindByID(gomock.Any(), visitID).DoAndReturn(onDoc("B-2")),
			s.visits.EXPECT().FindByID(gomock.Any(), visitID).DoAndReturn(onDoc("B-2")),
			s.index.EXPECT().GetActiveVisit(gomock.Any(), "C-3").Return(nil, sentinel.ErrNotFound),
			s.visits.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil),
		)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		v, err := s.service.Update(context.Background(), visitID, &models.UpdateRequest{DocumentID: "C-3"})
		s.Require().NoError(err)
		s.Equal("C-3", v.DocumentID)
		s.Equal([][]string{{"A-1", "C-3"}, {"B-2", "C-3"}}, tx.keys)
	})

	s.Run("gives up with a conflict when the document keeps moving", func() {
		tx := &recordingTx{inner: NewShardedTx()}
		s.service.tx = tx
		reads := 0
		s.visits.EXPECT().FindByID(gomock.Any(), visitID).DoAndReturn(
			func(ctx context.Context, vid id.VisitID) (*models.Visit, error) {
				reads++
				return onDoc(fmt.Sprintf("D-%d", reads))(ctx, vid)
			}).Times(2 * updateAttempts)

		_, err := s.service.Update(context.Background(), visitID, &models.UpdateRequest{Destination: "Bodega"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Len(tx.keys, updateAttempts)
	})
}

func (s *ServiceSuite) TestExportRows() {
	known, gone := id.NewOperatorID(), id.NewOperatorID()
	visits := []*models.Visit{
		{ID: id.NewVisitID(), DocumentID: "1", RecordedBy: &known},
		{ID: id.NewVisitID(), DocumentID: "2", RecordedBy: &gone},
		{ID: id.NewVisitID(), DocumentID: "3"},
		{ID: id.NewVisitID(), DocumentID: "4", RecordedBy: &known},
	}
	s.visits.EXPECT().ListAll(gomock.Any(), gomock.Any()).Return(visits, nil)
	s.operators.EXPECT().EmailsByID(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ids []id.OperatorID) (map[id.OperatorID]string, error) {
			s.ElementsMatch([]id.OperatorID{known, gone}, ids)
			return map[id.OperatorID]string{known: "op@local"}, nil
		})
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) error {
		s.Equal(audit.ActionVisitsExportExcel, e.Action)
		return nil
	})

	rows, err := s.service.ExportRows(context.Background(), models.Filter{}, ExportExcel)
	s.Require().NoError(err)
	s.Require().Len(rows, 4)
	s.Equal("op@local", rows[0].OperatorEmail)
	s.Empty(rows[1].OperatorEmail)
	s.Empty(rows[2].OperatorEmail)
	s.Equal("op@local", rows[3].OperatorEmail)
}

func (s *ServiceSuite) TestListNormalizesPaging() {
	s.visits.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, f models.Filter) ([]*models.Visit, int, error) {
			s.Equal(1, f.Page)
			s.Equal(100, f.PageSize)
			return nil, 0, nil
		})
	page, err := s.service.List(context.Background(), models.Filter{Page: -3, PageSize: 5000})
	s.Require().NoError(err)
	s.Equal(100, page.PageSize)
}

func (s *ServiceSuite) TestListFarPageIsEmpty() {
	s.visits.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, f models.Filter) ([]*models.Visit, int, error) {
			s.Equal(math.MaxInt, f.Offset())
			return []*models.Visit{}, 3, nil
		})
	page, err := s.service.List(context.Background(), models.Filter{Page: math.MaxInt, PageSize: 100})
	s.Require().NoError(err)
	s.Empty(page.Items)
	s.Equal(3, page.Total)
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	require.Error(t, err)
}

func TestShardedTxLocksMultipleKeys(t *testing.T) {
	tx := NewShardedTx()
	done := make(chan struct{})
	err := tx.RunInTx(context.Background(), []string{"b", "a", "b"}, func(ctx context.Context) error {
		go func() {
			defer close(done)
			_ = tx.RunInTx(context.Background(), []string{"a"}, func(context.Context) error { return nil })
		}()
		select {
		case <-done:
			t.Error("second unit ran while the key was held")
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	})
	require.NoError(t, err)
	<-done

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = tx.RunInTx(ctx, []string{"a"}, func(context.Context) error { return nil })
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}
