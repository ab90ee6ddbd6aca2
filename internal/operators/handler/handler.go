package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/operators/models"
	id "gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
	"gatehouse/pkg/platform/middleware/admin"
	request "gatehouse/pkg/platform/middleware/request"
	"gatehouse/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, req *models.CreateRequest) (*models.Operator, error)
	List(ctx context.Context) ([]*models.Operator, error)
	Get(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error)
	Update(ctx context.Context, operatorID id.OperatorID, req *models.UpdateRequest) (*models.Operator, error)
	ChangePassword(ctx context.Context, operatorID id.OperatorID, req *models.ChangePasswordRequest) error
	ResetPassword(ctx context.Context, operatorID id.OperatorID, req *models.ResetPasswordRequest) (string, error)
	Delete(ctx context.Context, operatorID id.OperatorID) error
}

type OperatorResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"nombre"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type ResetPasswordResponse struct {
	Message           string  `json:"message"`
	TemporaryPassword *string `json:"temporaryPassword"`
}

func toOperatorResponse(op *models.Operator) OperatorResponse {
	return OperatorResponse{
		ID:        op.ID.String(),
		Email:     op.Email,
		Name:      op.Name,
		Role:      op.Role,
		CreatedAt: op.CreatedAt,
	}
}

type Handler struct {
	operators Service
	logger    *slog.Logger
}

func New(operators Service, logger *slog.Logger) *Handler {
	return &Handler{operators: operators, logger: logger}
}

// Register mounts /users. Every route needs an authenticated operator;
// account management additionally needs the admin role.
func (h *Handler) Register(r chi.Router) {
	requireAdmin := admin.RequireAdmin(h.logger)
	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Put("/change-password", h.handleChangePassword)
		r.Get("/{id}", h.handleGet)
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/", h.handleCreate)
			r.Patch("/{id}", h.handleUpdate)
			r.Delete("/{id}", h.handleDelete)
			r.Post("/{id}/reset-password", h.handleResetPassword)
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	op, err := h.operators.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "operator creation failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "Usuario creado correctamente", toOperatorResponse(op))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ops, err := h.operators.List(r.Context())
	if err != nil {
		h.writeError(w, r, "operator listing failed", err)
		return
	}
	out := make([]OperatorResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperatorResponse(op))
	}
	httputil.WriteSuccess(w, http.StatusOK, "", out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.operatorID(w, r)
	if !ok {
		return
	}
	op, err := h.operators.Get(r.Context(), operatorID)
	if err != nil {
		h.writeError(w, r, "operator lookup failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", toOperatorResponse(op))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.operatorID(w, r)
	if !ok {
		return
	}
	var req models.UpdateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	op, err := h.operators.Update(r.Context(), operatorID, &req)
	if err != nil {
		h.writeError(w, r, "operator update failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Usuario actualizado correctamente", toOperatorResponse(op))
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	current, ok := requestcontext.CurrentOperator(r.Context())
	if !ok {
		httputil.WriteError(w, r, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	var req models.ChangePasswordRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.operators.ChangePassword(r.Context(), current.ID, &req); err != nil {
		h.writeError(w, r, "password change failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Contraseña actualizada correctamente", nil)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.operatorID(w, r)
	if !ok {
		return
	}
	if err := h.operators.Delete(r.Context(), operatorID); err != nil {
		h.writeError(w, r, "operator deletion failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Usuario eliminado correctamente", nil)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.operatorID(w, r)
	if !ok {
		return
	}
	var req models.ResetPasswordRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	temp, err := h.operators.ResetPassword(r.Context(), operatorID, &req)
	if err != nil {
		h.writeError(w, r, "password reset failed", err)
		return
	}
	resp := ResetPasswordResponse{Message: "Contraseña reseteada correctamente"}
	if temp != "" {
		resp.TemporaryPassword = &temp
	}
	httputil.WriteSuccess(w, http.StatusOK, resp.Message, resp)
}

func (h *Handler) operatorID(w http.ResponseWriter, r *http.Request) (id.OperatorID, bool) {
	operatorID, err := id.ParseOperatorID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, dErrors.New(dErrors.CodeNotFound, "operator not found"))
		return id.OperatorID{}, false
	}
	return operatorID, true
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
