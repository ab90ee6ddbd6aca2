package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/visits/export"
	"gatehouse/internal/visits/models"
	"gatehouse/internal/visits/service"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/facilitytime"
	"gatehouse/pkg/platform/httputil"
	request "gatehouse/pkg/platform/middleware/request"
	"gatehouse/pkg/requestcontext"
)

// Service is the visit workflow as seen from HTTP.
type Service interface {
	CheckIn(ctx context.Context, req *models.CheckInRequest) (*models.Visit, error)
	CheckOut(ctx context.Context, visitID id.VisitID) (*models.Visit, error)
	CheckOutByDocument(ctx context.Context, documentID string) (*models.Visit, error)
	Update(ctx context.Context, visitID id.VisitID, req *models.UpdateRequest) (*models.Visit, error)
	Get(ctx context.Context, visitID id.VisitID) (*models.Visit, error)
	LatestByDocument(ctx context.Context, documentID string) (*models.Visit, error)
	ActiveByDocument(ctx context.Context, documentID string) (*models.Visit, error)
	List(ctx context.Context, f models.Filter) (*models.Page, error)
	ExportRows(ctx context.Context, f models.Filter, format service.ExportFormat) ([]models.ExportRow, error)
}

type Handler struct {
	visits Service
	zone   facilitytime.Zone
	logger *slog.Logger
}

func New(visits Service, zone facilitytime.Zone, logger *slog.Logger) *Handler {
	return &Handler{visits: visits, zone: zone, logger: logger}
}

// Register mounts the visit routes. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Route("/registros", func(r chi.Router) {
		r.Post("/", h.handleCheckIn)
		r.Get("/", h.handleList)
		r.Get("/buscar", h.handleLatestByDocument)
		r.Get("/export/csv", h.handleExportCSV)
		r.Get("/export/excel", h.handleExportExcel)
		r.Get("/activos/{documento}", h.handleActiveByDocument)
		r.Put("/documento/{documento}/salida", h.handleCheckOutByDocument)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handleUpdate)
		r.Put("/{id}/salida", h.handleCheckOut)
	})
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req models.CheckInRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	v, err := h.visits.CheckIn(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "check-in failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Ingreso registrado", toVisitResponse(v, h.zone))
}

func (h *Handler) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	visitID, ok := h.visitID(w, r)
	if !ok {
		return
	}
	v, err := h.visits.CheckOut(r.Context(), visitID)
	if err != nil {
		h.writeError(w, r, "checkout failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Salida registrada", toVisitResponse(v, h.zone))
}

func (h *Handler) handleCheckOutByDocument(w http.ResponseWriter, r *http.Request) {
	v, err := h.visits.CheckOutByDocument(r.Context(), strings.TrimSpace(chi.URLParam(r, "documento")))
	if err != nil {
		h.writeError(w, r, "checkout by document failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Salida registrada", toVisitResponse(v, h.zone))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	visitID, ok := h.visitID(w, r)
	if !ok {
		return
	}
	var req models.UpdateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	v, err := h.visits.Update(r.Context(), visitID, &req)
	if err != nil {
		h.writeError(w, r, "visit update failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Registro actualizado", toVisitResponse(v, h.zone))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	visitID, ok := h.visitID(w, r)
	if !ok {
		return
	}
	v, err := h.visits.Get(r.Context(), visitID)
	if err != nil {
		h.writeError(w, r, "visit lookup failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", toVisitResponse(v, h.zone))
}

func (h *Handler) handleLatestByDocument(w http.ResponseWriter, r *http.Request) {
	v, err := h.visits.LatestByDocument(r.Context(), r.URL.Query().Get("documento"))
	if err != nil {
		h.writeError(w, r, "visit search failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", toVisitResponse(v, h.zone))
}

func (h *Handler) handleActiveByDocument(w http.ResponseWriter, r *http.Request) {
	v, err := h.visits.ActiveByDocument(r.Context(), chi.URLParam(r, "documento"))
	if err != nil {
		h.writeError(w, r, "active visit lookup failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", toVisitResponse(v, h.zone))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r, true)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	page, err := h.visits.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, "visit listing failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", toPageResponse(page, h.zone))
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, service.ExportCSV, "text/csv; charset=utf-8", "csv", export.WriteCSV)
}

func (h *Handler) handleExportExcel(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, service.ExportExcel,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", export.WriteXLSX)
}

type renderFunc func(w io.Writer, rows []models.ExportRow, zone facilitytime.Zone) error

func (h *Handler) export(w http.ResponseWriter, r *http.Request, format service.ExportFormat, contentType, ext string, render renderFunc) {
	f, err := h.filter(r, false)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	rows, err := h.visits.ExportRows(r.Context(), f, format)
	if err != nil {
		h.writeError(w, r, "export failed", err)
		return
	}
	// Rendered to memory first so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := render(&buf, rows, h.zone); err != nil {
		h.writeError(w, r, "export rendering failed", dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export"))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(requestcontext.Now(r.Context()), ext)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// filter reads nombre, apellido, documento, desde, hasta and, when paged,
// page and pageSize.
func (h *Handler) filter(r *http.Request, paged bool) (models.Filter, error) {
	q := r.URL.Query()
	from, until, err := h.zone.Range(q.Get("desde"), q.Get("hasta"))
	if err != nil {
		return models.Filter{}, err
	}
	f := models.Filter{
		GivenName:  q.Get("nombre"),
		FamilyName: q.Get("apellido"),
		DocumentID: q.Get("documento"),
		From:       from,
		Until:      until,
	}
	if !paged {
		return f, nil
	}
	fields := dErrors.FieldErrors{}
	if raw := q.Get("page"); raw != "" {
		if f.Page, err = strconv.Atoi(raw); err != nil {
			fields.Add("page", "page must be a number")
		}
	}
	if raw := q.Get("pageSize"); raw != "" {
		if f.PageSize, err = strconv.Atoi(raw); err != nil {
			fields.Add("pageSize", "pageSize must be a number")
		}
	}
	return f, fields.Err()
}

// visitID parses the {id} route parameter. A malformed id cannot name a
// visit, so it is reported as not found.
func (h *Handler) visitID(w http.ResponseWriter, r *http.Request) (id.VisitID, bool) {
	visitID, err := id.ParseVisitID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, dErrors.New(dErrors.CodeNotFound, "visit not found"))
		return id.VisitID{}, false
	}
	return visitID, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
	} else {
		h.logger.InfoContext(ctx, msg, "error", err.Error(), "request_id", request.GetRequestID(ctx))
	}
	httputil.WriteError(w, r, err)
}
