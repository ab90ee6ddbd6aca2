package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"gatehouse/internal/operators/handler/mocks"
	"gatehouse/internal/operators/models"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/testutil"
)

type OperatorHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	adminID id.OperatorID
}

func TestOperatorHandlerSuite(t *testing.T) {
	suite.Run(t, new(OperatorHandlerSuite))
}

func (s *OperatorHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.service = mocks.NewMockService(ctrl)
	s.adminID = id.NewOperatorID()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.service, logger).Register(s.router)
}

func (s *OperatorHandlerSuite) asAdmin(req *http.Request) *http.Request {
	return testutil.WithOperator(req, s.adminID, models.RoleAdmin)
}

func (s *OperatorHandlerSuite) asOperator(req *http.Request) *http.Request {
	return testutil.WithOperator(req, id.NewOperatorID(), models.RoleOperator)
}

func sampleOperator() *models.Operator {
	return &models.Operator{
		ID:           id.NewOperatorID(),
		Email:        "ana@site.co",
		Name:         "Ana",
		Role:         models.RoleOperator,
		PasswordHash: "$2a$10$secret",
		CreatedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *OperatorHandlerSuite) TestCreate() {
	s.Run("admin creates an operator", func() {
		op := sampleOperator()
		s.service.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *models.CreateRequest) (*models.Operator, error) {
				s.Equal("ana@site.co", req.Email)
				s.Equal("secret1", req.Password)
				return op, nil
			})

		rr := testutil.DoRequest(s.router, s.asAdmin(testutil.NewJSONRequest(s.T(), http.MethodPost, "/users",
			map[string]string{"email": "ana@site.co", "password": "secret1"})))

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		body := string(rr.Body.Bytes())
		s.NotContains(body, "secret")
		s.NotContains(body, "password")
	})

	s.Run("operators are forbidden", func() {
		rr := testutil.DoRequest(s.router, s.asOperator(testutil.NewJSONRequest(s.T(), http.MethodPost, "/users",
			map[string]string{"email": "ana@site.co", "password": "secret1"})))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("unauthenticated", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/users", map[string]string{}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("duplicate email is a 400", func() {
		s.service.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "an operator with that email already exists"))
		rr := testutil.DoRequest(s.router, s.asAdmin(testutil.NewJSONRequest(s.T(), http.MethodPost, "/users",
			map[string]string{"email": "ana@site.co", "password": "secret1"})))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "conflict")
	})
}

func (s *OperatorHandlerSuite) TestListAndGet() {
	op := sampleOperator()
	s.service.EXPECT().List(gomock.Any()).Return([]*models.Operator{op}, nil)
	rr := testutil.DoRequest(s.router, s.asOperator(testutil.NewRequest(s.T(), http.MethodGet, "/users")))
	testutil.AssertStatusOK(s.T(), rr)
	list := testutil.UnmarshalData[[]OperatorResponse](s.T(), rr)
	s.Require().Len(*list, 1)
	s.Equal("ana@site.co", (*list)[0].Email)

	s.service.EXPECT().Get(gomock.Any(), op.ID).Return(op, nil)
	rr = testutil.DoRequest(s.router, s.asOperator(testutil.NewRequest(s.T(), http.MethodGet, "/users/"+op.ID.String())))
	testutil.AssertStatusOK(s.T(), rr)
	got := testutil.UnmarshalData[OperatorResponse](s.T(), rr)
	s.Equal(op.ID.String(), got.ID)

	rr = testutil.DoRequest(s.router, s.asOperator(testutil.NewRequest(s.T(), http.MethodGet, "/users/not-a-uuid")))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *OperatorHandlerSuite) TestChangePasswordUsesCaller() {
	callerID := id.NewOperatorID()
	s.service.EXPECT().ChangePassword(gomock.Any(), callerID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ id.OperatorID, req *models.ChangePasswordRequest) error {
			s.Equal("old123", req.CurrentPassword)
			return nil
		})

	req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/users/change-password",
		map[string]string{"currentPassword": "old123", "newPassword": "new123"})
	rr := testutil.DoRequest(s.router, testutil.WithOperator(req, callerID, models.RoleOperator))
	testutil.AssertStatusOK(s.T(), rr)
}

func (s *OperatorHandlerSuite) TestResetPassword() {
	target := id.NewOperatorID()

	s.Run("returns the generated password", func() {
		s.service.EXPECT().ResetPassword(gomock.Any(), target, gomock.Any()).Return("a1b2c3d4", nil)
		rr := testutil.DoRequest(s.router, s.asAdmin(testutil.NewRequest(s.T(), http.MethodPost, "/users/"+target.String()+"/reset-password")))
		testutil.AssertStatusOK(s.T(), rr)
		got := testutil.UnmarshalData[ResetPasswordResponse](s.T(), rr)
		s.Require().NotNil(got.TemporaryPassword)
		s.Equal("a1b2c3d4", *got.TemporaryPassword)
	})

	s.Run("chosen password is not echoed", func() {
		s.service.EXPECT().ResetPassword(gomock.Any(), target, gomock.Any()).Return("", nil)
		rr := testutil.DoRequest(s.router, s.asAdmin(testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/users/"+target.String()+"/reset-password", map[string]string{"newPassword": "chosen1"})))
		testutil.AssertStatusOK(s.T(), rr)
		got := testutil.UnmarshalData[ResetPasswordResponse](s.T(), rr)
		s.Nil(got.TemporaryPassword)
	})
}

func (s *OperatorHandlerSuite) TestDelete() {
	target := id.NewOperatorID()
	s.service.EXPECT().Delete(gomock.Any(), target).Return(dErrors.New(dErrors.CodeNotFound, "operator not found"))
	rr := testutil.DoRequest(s.router, s.asAdmin(testutil.NewRequest(s.T(), http.MethodDelete, "/users/"+target.String())))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}
