package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/platform/httputil"
	"consentvault/pkg/requestcontext"
	"consentvault/pkg/testutil"
)

type routes func(r chi.Router)

func (f routes) Register(r chi.Router) { f(r) }

type fixedVerifier struct{}

func (fixedVerifier) Verify(credential string) (domain.SubjectID, error) {
	if credential == "let-me-in" {
		return 7, nil
	}
	return 0, dErrors.New(dErrors.CodeUnauthorized, "credential invalid")
}

func newTestRouter(readiness ...ReadinessCheck) http.Handler {
	return NewRouter(Deps{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Gatherer: prometheus.NewRegistry(),
		Verifier: fixedVerifier{},
		Public: []RouteRegistrar{routes(func(r chi.Router) {
			r.Get("/open", func(w http.ResponseWriter, _ *http.Request) {
				httputil.WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
			})
		})},
		Authenticated: []RouteRegistrar{routes(func(r chi.Router) {
			r.Get("/closed", func(w http.ResponseWriter, r *http.Request) {
				httputil.WriteJSON(w, http.StatusOK, map[string]domain.SubjectID{"subject": requestcontext.SubjectID(r.Context())})
			})
		})},
		Readiness: readiness,
	})
}

func TestRouter(t *testing.T) {
	testutil.Given(t, "a router with one public and one authenticated route", func(t *testing.T) {
		router := newTestRouter()

		testutil.When(t, "calling the public route without a credential", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/open", nil))

			testutil.Then(t, "it is served as JSON", func(t *testing.T) {
				assert.Equal(t, http.StatusOK, rr.Code)
				assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
				assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
			})
		})

		testutil.When(t, "calling the authenticated route without a credential", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/closed", nil))

			testutil.Then(t, "it is rejected", func(t *testing.T) {
				testutil.AssertError(t, rr, http.StatusUnauthorized, "unauthorized")
			})
		})

		testutil.When(t, "calling the authenticated route with a valid credential", func(t *testing.T) {
			req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodGet, "/closed", nil), "let-me-in")
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "the handler sees the verified subject", func(t *testing.T) {
				assert.Equal(t, http.StatusOK, rr.Code)
				assert.JSONEq(t, `{"subject":7}`, rr.Body.String())
			})
		})

		testutil.When(t, "probing the operational endpoints", func(t *testing.T) {
			health := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/healthz", nil))
			ready := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/readyz", nil))
			metrics := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/metrics", nil))

			testutil.Then(t, "they answer without a credential", func(t *testing.T) {
				assert.JSONEq(t, `{"status":"ok"}`, health.Body.String())
				assert.JSONEq(t, `{"status":"ready"}`, ready.Body.String())
				assert.Equal(t, http.StatusOK, metrics.Code)
			})
		})
	})
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	router := newTestRouter(
		ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"redis":"connection refused"}}`, rr.Body.String())
}
