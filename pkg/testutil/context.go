package testutil

import (
	"net/http"

	id "gatehouse/pkg/domain"
	"gatehouse/pkg/requestcontext"
)

// WithOperator simulates what the auth middleware does for an authenticated
// request.
func WithOperator(req *http.Request, operatorID id.OperatorID, role string) *http.Request {
	ctx := requestcontext.WithOperator(req.Context(), requestcontext.Operator{
		ID:    operatorID,
		Email: operatorID.String()[:8] + "@local",
		Role:  role,
	})
	return req.WithContext(ctx)
}
