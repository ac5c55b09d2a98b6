package testutil

import (
	"net/http"

	"consentvault/pkg/domain"
	"consentvault/pkg/requestcontext"
)

// WithSubject binds subject to the request context, as RequireAuth does for
// an authenticated request. Use it to call handlers without the middleware.
func WithSubject(req *http.Request, subject domain.SubjectID) *http.Request {
	return req.WithContext(requestcontext.WithSubjectID(req.Context(), subject))
}

// WithBearer sets the Authorization header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
