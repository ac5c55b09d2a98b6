package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/platform/httputil"
	request "consentvault/pkg/platform/middleware/request"
)

// Service defines the policy catalog reads exposed over HTTP.
type Service interface {
	List(ctx context.Context) ([]models.Policy, error)
	Latest(ctx context.Context) (*models.Policy, error)
	Get(ctx context.Context, id domain.PolicyID) (*models.Policy, error)
}

// Handler serves the public policy catalog.
type Handler struct {
	policies Service
	logger   *slog.Logger
}

func New(policies Service, logger *slog.Logger) *Handler {
	return &Handler{policies: policies, logger: logger}
}

// Register mounts the catalog routes. They require no credential.
func (h *Handler) Register(r chi.Router) {
	r.Get("/policies", h.handleList)
	r.Get("/policies/latest", h.handleLatest)
	r.Get("/policies/{policyID}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policies, err := h.policies.List(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list policies", err)
		return
	}
	out := make([]models.PolicyResponse, 0, len(policies))
	for i := range policies {
		out = append(out, models.ToResponse(&policies[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.policies.Latest(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to load latest policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToResponse(p))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.policies.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToResponse(p))
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
