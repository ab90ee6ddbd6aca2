// Package handler serves the admin audit log listing.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	audit "gatehouse/pkg/platform/audit"
	"gatehouse/pkg/platform/httputil"
	"gatehouse/pkg/platform/middleware/admin"
	request "gatehouse/pkg/platform/middleware/request"
)

// Lister reads audit entries back. The publisher satisfies it.
type Lister interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error)
}

type EntryResponse struct {
	ID        string          `json:"id"`
	UserID    *string         `json:"userId"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entityId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	IPAddress string          `json:"ipAddress,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type ListResponse struct {
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	Logs     []EntryResponse `json:"logs"`
}

func toEntryResponse(e audit.Entry) EntryResponse {
	resp := EntryResponse{
		ID:        e.ID.String(),
		Action:    string(e.Action),
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		Data:      e.Data,
		IPAddress: e.IP,
		UserAgent: e.UserAgent,
		RequestID: e.RequestID,
		CreatedAt: e.CreatedAt,
	}
	if e.ActorID != nil {
		actor := e.ActorID.String()
		resp.UserID = &actor
	}
	return resp
}

type Handler struct {
	entries Lister
	logger  *slog.Logger
}

func New(entries Lister, logger *slog.Logger) *Handler {
	return &Handler{entries: entries, logger: logger}
}

// Register mounts GET /auditlogs for admins.
func (h *Handler) Register(r chi.Router) {
	r.With(admin.RequireAdmin(h.logger)).Get("/auditlogs", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	filter.Normalize()

	entries, total, err := h.entries.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit listing failed", "error", err, "request_id", request.GetRequestID(ctx))
		httputil.WriteError(w, r, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit logs"))
		return
	}
	logs := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, toEntryResponse(e))
	}
	httputil.WriteSuccess(w, http.StatusOK, "", ListResponse{
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Logs:     logs,
	})
}

// parseFilter reads userId, action, desde, hasta, page and pageSize.
func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	fields := dErrors.FieldErrors{}
	var f audit.Filter

	if raw := strings.TrimSpace(q.Get("userId")); raw != "" {
		actor, err := id.ParseOperatorID(raw)
		if err != nil {
			fields.Add("userId", "userId must be a UUID")
		} else {
			f.ActorID = &actor
		}
	}
	f.Action = audit.Action(strings.TrimSpace(q.Get("action")))
	if raw := q.Get("desde"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			fields.Add("desde", "desde must be a date or timestamp")
		} else {
			f.From = &t
		}
	}
	if raw := q.Get("hasta"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			fields.Add("hasta", "hasta must be a date or timestamp")
		} else {
			f.Until = &t
		}
	}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields.Add("page", "page must be a number")
		}
		f.Page = n
	}
	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields.Add("pageSize", "pageSize must be a number")
		}
		f.PageSize = n
	}
	return f, fields.Err()
}

var instantLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseInstant accepts RFC 3339 or a zone-less timestamp or date, which is
// read as UTC.
func parseInstant(raw string) (time.Time, error) {
	var err error
	for _, layout := range instantLayouts {
		var t time.Time
		if t, err = time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}
