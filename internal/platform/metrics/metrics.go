package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Every method is
// safe on a nil receiver so components can run without instrumentation.
type Metrics struct {
	ConsentsRecorded    *prometheus.CounterVec
	DuplicateConsents   prometheus.Counter
	SubjectsForgotten   *prometheus.CounterVec
	ErasedWriteAttempts prometheus.Counter
	KeysCreated         prometheus.Counter
	AuthFailures        *prometheus.CounterVec
	RequestLatency      *prometheus.HistogramVec
	PolicyLookupLatency *prometheus.HistogramVec
}

// New creates and registers all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConsentsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentvault_consents_recorded_total",
			Help: "Consent events appended to the ledger, by status",
		}, []string{"status"}),
		DuplicateConsents: f.NewCounter(prometheus.CounterOpts{
			Name: "consentvault_consent_duplicates_total",
			Help: "Consent submissions rejected because the validation hash already exists",
		}),
		SubjectsForgotten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentvault_subjects_forgotten_total",
			Help: "Forget requests, split into first erasures and idempotent repeats",
		}, []string{"outcome"}),
		ErasedWriteAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "consentvault_erased_subject_writes_total",
			Help: "Consent writes refused because the subject was forgotten",
		}),
		KeysCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "consentvault_subject_keys_created_total",
			Help: "Subject keys generated on first consent write",
		}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentvault_auth_failures_total",
			Help: "Rejected bearer credentials, by reason",
		}, []string{"reason"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentvault_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		PolicyLookupLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentvault_policy_lookup_duration_seconds",
			Help:    "Policy reference lookup latency by outcome",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncConsentRecorded(status string) {
	if m == nil {
		return
	}
	m.ConsentsRecorded.WithLabelValues(status).Inc()
}

func (m *Metrics) IncDuplicateConsent() {
	if m == nil {
		return
	}
	m.DuplicateConsents.Inc()
}

// IncSubjectForgotten records a forget call; first is true only for the call
// that moved the subject out of the active state.
func (m *Metrics) IncSubjectForgotten(first bool) {
	if m == nil {
		return
	}
	outcome := "repeat"
	if first {
		outcome = "first"
	}
	m.SubjectsForgotten.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncErasedWriteAttempt() {
	if m == nil {
		return
	}
	m.ErasedWriteAttempts.Inc()
}

func (m *Metrics) IncKeyCreated() {
	if m == nil {
		return
	}
	m.KeysCreated.Inc()
}

func (m *Metrics) IncAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

func (m *Metrics) ObservePolicyLookup(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.PolicyLookupLatency.WithLabelValues(outcome).Observe(seconds)
}
