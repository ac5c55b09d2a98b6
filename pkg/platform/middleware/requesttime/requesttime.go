// Package requesttime captures one "now" per request so the consent timestamp,
// its validation hash, and audit events all agree on the same instant.
package requesttime

import (
	"net/http"
	"time"

	"consentvault/pkg/requestcontext"
)

// Middleware stores the request start time (UTC, microsecond precision to
// match Postgres timestamptz) in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		ctx := requestcontext.WithTime(r.Context(), now)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
