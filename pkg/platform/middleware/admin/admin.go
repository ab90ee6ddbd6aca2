package admin

import (
	"log/slog"
	"net/http"
	"slices"

	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
	request "gatehouse/pkg/platform/middleware/request"
	"gatehouse/pkg/requestcontext"
)

// RoleAdmin is the only role with management rights.
const RoleAdmin = "admin"

// RequireRole admits requests whose authenticated operator holds one of the
// given roles. It must run after auth.RequireAuth.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			op, ok := requestcontext.CurrentOperator(ctx)
			if !ok {
				httputil.WriteError(w, r, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !slices.Contains(roles, op.Role) {
				logger.WarnContext(ctx, "forbidden - role not allowed",
					"operator_id", op.ID.String(),
					"role", op.Role,
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, r, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is RequireRole(logger, RoleAdmin).
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return RequireRole(logger, RoleAdmin)
}
