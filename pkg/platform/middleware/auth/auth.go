package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/platform/httputil"
	"consentvault/pkg/requestcontext"
)

// CredentialVerifier validates a bearer credential and returns the subject it
// was issued to. An empty credential means none was presented.
type CredentialVerifier interface {
	Verify(credential string) (domain.SubjectID, error)
}

// FailureRecorder counts rejected credentials by reason.
type FailureRecorder interface {
	IncAuthFailure(reason string)
}

// RequireAuth rejects requests without a valid bearer credential and binds the
// verified subject into the request context for handlers to read via
// requestcontext.SubjectID. Handlers never parse credentials themselves.
func RequireAuth(verifier CredentialVerifier, failures FailureRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			subject, err := verifier.Verify(bearerCredential(r))
			if err != nil {
				reason := "invalid"
				var de *dErrors.Error
				if errors.As(err, &de) {
					reason = de.Message
				}
				if failures != nil {
					failures.IncAuthFailure(reason)
				}
				logger.WarnContext(ctx, "unauthorized access",
					"reason", reason,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}

			ctx = requestcontext.WithSubjectID(ctx, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerCredential returns the token after "Bearer ". Any other scheme is
// passed through whole so the verifier rejects it as malformed rather than missing.
func bearerCredential(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return header
}
