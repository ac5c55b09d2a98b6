package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consentvault/internal/auth"
	forget "consentvault/internal/forget/service"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/platform/httputil"
	request "consentvault/pkg/platform/middleware/request"
	"consentvault/pkg/requestcontext"
)

type Service interface {
	Forget(ctx context.Context, subject domain.SubjectID) (forget.Result, error)
}

// Handler serves the forget endpoint. It must be mounted behind RequireAuth.
type Handler struct {
	forget Service
	logger *slog.Logger
}

func New(forget Service, logger *slog.Logger) *Handler {
	return &Handler{forget: forget, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Delete("/users/{subjectID}/forget", h.handleForget)
}

func (h *Handler) handleForget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := auth.AuthorizeSameSubject(requestcontext.SubjectID(ctx), subject); err != nil {
		h.logger.WarnContext(ctx, "forget for another subject rejected",
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	result, err := h.forget.Forget(ctx, subject)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to forget subject",
				"request_id", requestID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
