// Package httptransport assembles the public HTTP surface: shared middleware,
// the authenticated consent and forget routes, the public policy catalog, and
// the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consentvault/pkg/platform/httputil"
	authmw "consentvault/pkg/platform/middleware/auth"
	"consentvault/pkg/platform/middleware/metadata"
	request "consentvault/pkg/platform/middleware/request"
	"consentvault/pkg/platform/middleware/requesttime"
)

// readinessTimeout bounds each dependency probe on /readyz.
const readinessTimeout = 2 * time.Second

// RouteRegistrar is implemented by every feature handler.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// Metrics is what the router reports to.
type Metrics interface {
	request.LatencyObserver
	authmw.FailureRecorder
}

// ReadinessCheck probes one dependency.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators NewRouter wires together.
type Deps struct {
	Logger         *slog.Logger
	Metrics        Metrics
	Gatherer       prometheus.Gatherer
	Verifier       authmw.CredentialVerifier
	RequestTimeout time.Duration

	// Authenticated are mounted behind RequireAuth.
	Authenticated []RouteRegistrar
	// Public need no credential.
	Public []RouteRegistrar

	Readiness []ReadinessCheck
}

// NewRouter wires all public endpoints.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(request.Latency(d.Metrics))

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", readinessHandler(d.Readiness))
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(d.RequestTimeout))
		r.Use(request.ContentTypeJSON)
		for _, h := range d.Public {
			h.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(d.RequestTimeout))
		r.Use(request.ContentTypeJSON)
		r.Use(authmw.RequireAuth(d.Verifier, d.Metrics, d.Logger))
		for _, h := range d.Authenticated {
			h.Register(r)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readinessHandler(checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failed := make(map[string]string)
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			if err := c.Check(ctx); err != nil {
				failed[c.Name] = err.Error()
			}
			cancel()
		}
		if len(failed) > 0 {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"checks": failed,
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
