package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"gatehouse/internal/visits/handler/mocks"
	"gatehouse/internal/visits/models"
	"gatehouse/internal/visits/service"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/facilitytime"
	"gatehouse/pkg/testutil"
)

type VisitHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestVisitHandlerSuite(t *testing.T) {
	suite.Run(t, new(VisitHandlerSuite))
}

func (s *VisitHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.service = mocks.NewMockService(ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.service, facilitytime.Fixed("COT", -5*time.Hour), logger).Register(s.router)
}

func sampleVisit() *models.Visit {
	op := id.NewOperatorID()
	return &models.Visit{
		ID:           id.NewVisitID(),
		IdentityID:   id.NewIdentityID(),
		GivenName:    "Ana",
		FamilyName:   "Gomez",
		DocumentID:   "123",
		Category:     "visitante",
		PhotoRef:     "/uploads/personal/123.png",
		Destination:  "Oficina",
		Reason:       "Reunion",
		CheckInAtUTC: time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC),
		RecordedBy:   &op,
	}
}

func (s *VisitHandlerSuite) TestCheckIn() {
	s.Run("returns the flat visit", func() {
		v := sampleVisit()
		s.service.EXPECT().CheckIn(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *models.CheckInRequest) (*models.Visit, error) {
				s.Equal("Ana", req.GivenName)
				s.Equal("123", req.DocumentID)
				return v, nil
			})

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/registros",
			map[string]string{"nombre": "Ana", "apellido": "Gomez", "documento": "123", "destino": "Oficina", "foto": "aGVsbG8="}))

		testutil.AssertStatusOK(s.T(), rr)
		got := testutil.UnmarshalData[VisitResponse](s.T(), rr)
		s.Equal(v.ID.String(), got.ID)
		s.Equal(v.IdentityID.String(), got.PersonalID)
		s.Equal("2024-01-01T22:00:00-05:00", got.HoraIngresoLocal.Format(time.RFC3339))
		s.Nil(got.HoraSalidaUtc)
		s.Equal(v.RecordedBy.String(), *got.RegistradoPor)
	})

	s.Run("conflict is a 400", func() {
		s.service.EXPECT().CheckIn(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "person already has an open visit"))

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/registros", map[string]string{}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "conflict")
	})

	s.Run("validation lists fields", func() {
		fields := dErrors.FieldErrors{}
		fields.Add("foto", "foto is required")
		s.service.EXPECT().CheckIn(gomock.Any(), gomock.Any()).Return(nil, fields.Err())

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/registros", map[string]string{}))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertFieldErrors(s.T(), rr, "foto")
	})

	s.Run("storage failure hides the cause", func() {
		s.service.EXPECT().CheckIn(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.Wrap(io.ErrUnexpectedEOF, dErrors.CodeInternal, "failed to store photo"))

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/registros", map[string]string{}))
		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		body := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Nil(body["error_description"])
	})

	s.Run("malformed body", func() {
		req := testutil.NewRequest(s.T(), http.MethodPost, "/registros")
		req.Body = io.NopCloser(strings.NewReader("{"))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *VisitHandlerSuite) TestCheckOut() {
	s.Run("unparseable id is not found", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPut, "/registros/does-not-exist/salida"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("already closed is a 400", func() {
		visitID := id.NewVisitID()
		s.service.EXPECT().CheckOut(gomock.Any(), visitID).
			Return(nil, dErrors.New(dErrors.CodeConflict, "checkout already recorded"))
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPut, "/registros/"+visitID.String()+"/salida"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "conflict")
	})

	s.Run("by document", func() {
		v := sampleVisit()
		out := v.CheckInAtUTC.Add(time.Hour)
		v.CheckOutAtUTC = &out
		s.service.EXPECT().CheckOutByDocument(gomock.Any(), "123").Return(v, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPut, "/registros/documento/123/salida"))
		testutil.AssertStatusOK(s.T(), rr)
		got := testutil.UnmarshalData[VisitResponse](s.T(), rr)
		s.Require().NotNil(got.HoraSalidaLocal)
		s.Equal("2024-01-01T23:00:00-05:00", got.HoraSalidaLocal.Format(time.RFC3339))
	})
}

func (s *VisitHandlerSuite) TestList() {
	s.Run("parses filters into a UTC range", func() {
		v := sampleVisit()
		s.service.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, f models.Filter) (*models.Page, error) {
				s.Equal("ana", f.GivenName)
				s.Equal("123", f.DocumentID)
				s.Equal(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC), *f.From)
				s.Equal(time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC), *f.Until)
				s.Equal(2, f.Page)
				s.Equal(5, f.PageSize)
				return &models.Page{Items: []*models.Visit{v}, Total: 6, Page: 2, PageSize: 5}, nil
			})

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet,
			"/registros?nombre=ana&documento=123&desde=2024-01-01&hasta=2024-01-02&page=2&pageSize=5"))
		testutil.AssertStatusOK(s.T(), rr)
		page := testutil.UnmarshalData[PageResponse](s.T(), rr)
		s.Equal(6, page.TotalCount)
		s.Require().Len(page.Items, 1)
		s.Equal("123", page.Items[0].Personal.Documento)
		s.Equal(v.IdentityID.String(), page.Items[0].Personal.ID)
	})

	s.Run("bad date", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/registros?desde=yesterday"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertFieldErrors(s.T(), rr, "desde")
	})

	s.Run("bad page", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/registros?page=x"))
		testutil.AssertFieldErrors(s.T(), rr, "page")
	})
}

func (s *VisitHandlerSuite) TestLookups() {
	v := sampleVisit()

	s.Run("by id", func() {
		s.service.EXPECT().Get(gomock.Any(), v.ID).Return(v, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/registros/"+v.ID.String()))
		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("latest by document", func() {
		s.service.EXPECT().LatestByDocument(gomock.Any(), "123").Return(v, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/registros/buscar?documento=123"))
		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("active by document not found", func() {
		s.service.EXPECT().ActiveByDocument(gomock.Any(), "999").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "no open visit for document"))
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/registros/activos/999"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("patch", func() {
		s.service.EXPECT().Update(gomock.Any(), v.ID, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ id.VisitID, req *models.UpdateRequest) (*models.Visit, error) {
				s.Equal("Bodega", req.Destination)
				return v, nil
			})
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPatch, "/registros/"+v.ID.String(),
			map[string]string{"destino": "Bodega"}))
		testutil.AssertStatusOK(s.T(), rr)
	})
}

func (s *VisitHandlerSuite) TestExports() {
	rows := []models.ExportRow{{Visit: sampleVisit(), OperatorEmail: "op@local"}}

	s.Run("csv", func() {
		s.service.EXPECT().ExportRows(gomock.Any(), gomock.Any(), service.ExportCSV).Return(rows, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/registros/export/csv?hasta=2024-01-01"))
		testutil.AssertStatusOK(s.T(), rr)
		s.Contains(rr.Header().Get("Content-Type"), "text/csv")
		s.Contains(rr.Header().Get("Content-Disposition"), `filename="registros_`)
		s.Contains(rr.Body.String(), ";op@local;")
	})

	s.Run("excel", func() {
		s.service.EXPECT().ExportRows(gomock.Any(), gomock.Any(), service.ExportExcel).Return(rows, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/registros/export/excel"))
		testutil.AssertStatusOK(s.T(), rr)
		s.Contains(rr.Header().Get("Content-Disposition"), ".xlsx")
		s.True(strings.HasPrefix(rr.Body.String(), "PK"), "xlsx is a zip archive")
	})
}
