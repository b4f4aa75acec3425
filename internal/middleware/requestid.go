// Package middleware provides HTTP middleware for the decision engine API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/decisiongate/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID is HTTP middleware that takes X-Request-ID from the request
// header or generates one. The ID becomes the correlation ID of every log
// line written while serving the request and is echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		ctx := logger.WithCorrelationID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
