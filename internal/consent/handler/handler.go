package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consentvault/internal/auth"
	"consentvault/internal/consent/models"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/platform/httputil"
	request "consentvault/pkg/platform/middleware/request"
	"consentvault/pkg/requestcontext"
)

// Service defines the consent ledger operations exposed over HTTP.
type Service interface {
	Record(ctx context.Context, cmd models.RecordCommand) (*models.ConsentView, error)
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]models.ConsentView, error)
	ListByPolicy(ctx context.Context, policy domain.PolicyID) ([]models.ConsentRecord, error)
}

// Handler handles consent endpoints. Every route expects RequireAuth to have
// bound the caller's subject id to the request context.
type Handler struct {
	consent Service
	logger  *slog.Logger
}

func New(consent Service, logger *slog.Logger) *Handler {
	return &Handler{consent: consent, logger: logger}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consents", h.handleRecordConsent)
	r.Get("/consents/user/{subjectID}", h.handleListBySubject)
	r.Get("/consents/policy/{policyID}", h.handleListByPolicy)
}

// handleRecordConsent appends a consent event for the authenticated subject.
func (h *Handler) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claimed, ok := h.claimedSubject(ctx, w)
	if !ok {
		return
	}

	var req models.RecordConsentRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.fail(ctx, w, "invalid record consent request", err)
		return
	}
	cmd, err := req.Validate()
	if err != nil {
		h.fail(ctx, w, "invalid record consent request", err)
		return
	}
	if err := auth.AuthorizeSameSubject(claimed, cmd.Subject); err != nil {
		h.fail(ctx, w, "consent write for another subject rejected", err)
		return
	}

	view, err := h.consent.Record(ctx, cmd)
	if err != nil {
		h.fail(ctx, w, "failed to record consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.ToRecordConsentResponse(view))
}

func (h *Handler) handleListBySubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claimed, ok := h.claimedSubject(ctx, w)
	if !ok {
		return
	}
	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		h.fail(ctx, w, "invalid subject id", err)
		return
	}
	if err := auth.AuthorizeSameSubject(claimed, subject); err != nil {
		h.fail(ctx, w, "consent read for another subject rejected", err)
		return
	}

	views, err := h.consent.ListBySubject(ctx, subject)
	if err != nil {
		h.fail(ctx, w, "failed to list consents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToConsentList(views))
}

// handleListByPolicy needs a credential but no subject binding: the
// projection holds pseudonyms only.
func (h *Handler) handleListByPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policy, err := domain.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		h.fail(ctx, w, "invalid policy id", err)
		return
	}
	records, err := h.consent.ListByPolicy(ctx, policy)
	if err != nil {
		h.fail(ctx, w, "failed to list policy consents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToPolicyConsentList(records))
}

func (h *Handler) claimedSubject(ctx context.Context, w http.ResponseWriter) (domain.SubjectID, bool) {
	claimed := requestcontext.SubjectID(ctx)
	if claimed.IsZero() {
		// Only reachable when the route is mounted without RequireAuth.
		h.logger.ErrorContext(ctx, "subject missing from context despite auth middleware",
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return 0, false
	}
	return claimed, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
