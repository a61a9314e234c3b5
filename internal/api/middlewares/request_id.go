package middlewares

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"sharetab/pkg/utils"
)

// RequestID tags each request with a correlation id, echoed in the
// X-Request-Id header and available to log statements via the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), utils.RequestIDKey, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
