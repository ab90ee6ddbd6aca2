package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/auth/models"
	operators "gatehouse/internal/operators/models"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
	request "gatehouse/pkg/platform/middleware/request"
)

type Service interface {
	Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResult, error)
	Refresh(ctx context.Context, req *models.RefreshRequest) (*models.TokenResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*operators.Operator, error)
}

// LoginResponse is shared by login and refresh.
type LoginResponse struct {
	Token              string    `json:"token"`
	Expiration         time.Time `json:"expiration"`
	RefreshToken       string    `json:"refreshToken"`
	RefreshTokenExpiry time.Time `json:"refreshTokenExpiry"`
	Email              string    `json:"email"`
	Role               string    `json:"role"`
}

type MeResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"nombre"`
	Role  string `json:"role"`
}

func toLoginResponse(res *models.TokenResult) LoginResponse {
	return LoginResponse{
		Token:              res.AccessToken,
		Expiration:         res.AccessTokenExpiresAt,
		RefreshToken:       res.RefreshToken,
		RefreshTokenExpiry: res.RefreshTokenExpiresAt,
		Email:              res.Email,
		Role:               res.Role,
	}
}

type Handler struct {
	auth   Service
	logger *slog.Logger
}

func New(auth Service, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, logger: logger}
}

// Register mounts /auth. Login and refresh are public; logout and me run
// behind requireAuth.
func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)
		})
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	res, err := h.auth.Login(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "login failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Inicio de sesión exitoso", toLoginResponse(res))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	res, err := h.auth.Refresh(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "token refresh failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Token renovado exitosamente", toLoginResponse(res))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		h.writeError(w, r, "logout failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Sesión cerrada correctamente", nil)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	op, err := h.auth.Me(r.Context())
	if err != nil {
		h.writeError(w, r, "me lookup failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", MeResponse{
		ID:    op.ID.String(),
		Email: op.Email,
		Name:  op.Name,
		Role:  op.Role,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
	} else {
		h.logger.WarnContext(ctx, msg, "error", err.Error(), "request_id", request.GetRequestID(ctx))
	}
	httputil.WriteError(w, r, err)
}
