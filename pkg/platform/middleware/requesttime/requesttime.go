// Package requesttime stamps each request with a single "now" so audit
// entries written during one request agree with each other.
package requesttime

import (
	"net/http"

	"gatehouse/pkg/platform/clock"
	"gatehouse/pkg/requestcontext"
)

// Middleware captures clk.Now() at the start of the request.
func Middleware(clk clock.Clock) func(http.Handler) http.Handler {
	if clk == nil {
		clk = clock.System
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clk.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
