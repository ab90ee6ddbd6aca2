// Package httptransport assembles the chi router: the shared middleware
// chain, the public and authenticated API groups, photo serving and the
// operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	authhandler "gatehouse/internal/auth/handler"
	"gatehouse/internal/platform/metrics"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/clock"
	"gatehouse/pkg/platform/httputil"
	"gatehouse/pkg/platform/middleware/cors"
	"gatehouse/pkg/platform/middleware/metadata"
	request "gatehouse/pkg/platform/middleware/request"
	"gatehouse/pkg/platform/middleware/requesttime"
)

// APIHandler mounts a group of routes under /api behind authentication.
type APIHandler interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Clock       clock.Clock
	CORSOrigins []string

	RequireAuth func(http.Handler) http.Handler
	Auth        *authhandler.Handler
	API         []APIHandler

	// Photos serves stored photos; it is mounted at /static + PhotoPrefix.
	// Leave nil when photos live in object storage.
	Photos      http.Handler
	PhotoPrefix string

	HealthChecks map[string]HealthCheck
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware(d.Clock))
	if d.Metrics != nil {
		r.Use(d.Metrics.LatencyMiddleware)
	}
	r.Use(cors.Middleware(d.CORSOrigins))

	r.Get("/healthz", healthz(d.HealthChecks, d.Logger))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	if d.Photos != nil {
		prefix := "/static/" + strings.Trim(d.PhotoPrefix, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", d.Photos))
	}

	r.Route("/api", func(r chi.Router) {
		d.Auth.Register(r, d.RequireAuth)
		r.Group(func(r chi.Router) {
			r.Use(d.RequireAuth)
			for _, h := range d.API {
				h.Register(r)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthz(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				resp.Checks[name] = "down"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "up"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
