// Package service implements the consent ledger use cases: recording a
// consent event for the caller, and listing the trail by subject or by policy.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentvault/internal/consent/models"
	"consentvault/internal/keystore"
	"consentvault/internal/platform/logger"
	policymodels "consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	audit "consentvault/pkg/platform/audit"
	"consentvault/pkg/platform/sentinel"
	"consentvault/pkg/platform/tx"
	"consentvault/pkg/requestcontext"
)

var tracer = otel.Tracer("consentvault/consent")

// Store is the ledger persistence port.
type Store interface {
	Append(ctx context.Context, rec *models.ConsentRecord) error
	ListByPseudonym(ctx context.Context, pseudonym string) ([]models.ConsentRecord, error)
	ListByPolicy(ctx context.Context, policy domain.PolicyID) ([]models.ConsentRecord, error)
}

// KeyStore resolves subject pseudonyms. ResolvePseudonym may create the
// subject key; LookupPseudonym never does.
type KeyStore interface {
	ResolvePseudonym(ctx context.Context, subject domain.SubjectID) (string, error)
	LookupPseudonym(ctx context.Context, subject domain.SubjectID) (string, error)
}

// PolicyReference confirms policies and supplies their briefs. Errors are
// already translated to ErrPolicyNotFound or ErrPolicyLookupFailed.
type PolicyReference interface {
	Exists(ctx context.Context, id domain.PolicyID) (bool, error)
	Brief(ctx context.Context, id domain.PolicyID) (policymodels.Brief, error)
	Briefs(ctx context.Context, ids []domain.PolicyID) (map[domain.PolicyID]policymodels.Brief, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Metrics interface {
	IncConsentRecorded(status string)
	IncDuplicateConsent()
}

// Service coordinates the key store, the policy reference, and the ledger.
type Service struct {
	store    Store
	keys     KeyStore
	policies PolicyReference
	tx       tx.Runner
	auditor  AuditPublisher
	metrics  Metrics
	logger   *slog.Logger
}

type Option func(*Service)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(store Store, keys KeyStore, policies PolicyReference, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:    store,
		keys:     keys,
		policies: policies,
		tx:       runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends a consent event for cmd.Subject. The caller must already
// have bound cmd.Subject to the authenticated identity.
//
// The subject key is resolved first and committed on its own, so a later
// failure leaves it in place for a retry. The append then runs in one unit of
// work that re-reads the key under lock, which makes a concurrent forget
// either finish before the append (ErrSubjectErased) or wait for it.
func (s *Service) Record(ctx context.Context, cmd models.RecordCommand) (*models.ConsentView, error) {
	ctx, span := tracer.Start(ctx, "consent.Record", trace.WithAttributes(
		attribute.Int64("policy.id", int64(cmd.Policy)),
		attribute.String("consent.status", string(cmd.Status)),
	))
	defer span.End()

	view, err := s.record(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		return nil, err
	}
	return view, nil
}

func (s *Service) record(ctx context.Context, cmd models.RecordCommand) (*models.ConsentView, error) {
	if _, err := s.keys.ResolvePseudonym(ctx, cmd.Subject); err != nil {
		return nil, err
	}

	brief, err := s.policies.Brief(ctx, cmd.Policy)
	if err != nil {
		return nil, err
	}

	var rec models.ConsentRecord
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.keys.LookupPseudonym(ctx, cmd.Subject)
		if err != nil {
			if errors.Is(err, keystore.ErrSubjectUnknown) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "subject key vanished during write")
			}
			return err
		}

		rec = models.NewConsentRecord(p, cmd.Policy, cmd.Channel, cmd.Status, requestcontext.Now(ctx))
		if err := s.store.Append(ctx, &rec); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrConflict):
				return models.ErrDuplicateConsentEvent
			case errors.Is(err, sentinel.ErrNotFound):
				return policymodels.ErrPolicyNotFound
			default:
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append consent")
			}
		}
		return s.emitRecorded(ctx, &rec)
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateConsentEvent) && s.metrics != nil {
			s.metrics.IncDuplicateConsent()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncConsentRecorded(string(rec.Status))
	}
	s.logger.InfoContext(ctx, "consent recorded",
		"consent_id", rec.ID,
		"policy_id", rec.PolicyID,
		"pseudonym", logger.Pseudonym(rec.SubjectPseudonym),
		"status", rec.Status,
	)
	return &models.ConsentView{Record: rec, Policy: &brief}, nil
}

// ListBySubject returns the subject's consent trail newest first. Unknown,
// forgotten, and empty subjects are indistinguishable: all return
// ErrNoConsents.
func (s *Service) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]models.ConsentView, error) {
	ctx, span := tracer.Start(ctx, "consent.ListBySubject")
	defer span.End()

	p, err := s.keys.LookupPseudonym(ctx, subject)
	if err != nil {
		if errors.Is(err, keystore.ErrSubjectUnknown) || errors.Is(err, keystore.ErrSubjectErased) {
			return nil, models.ErrNoConsents
		}
		span.RecordError(err)
		return nil, err
	}

	records, err := s.store.ListByPseudonym(ctx, p)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	if len(records) == 0 {
		return nil, models.ErrNoConsents
	}

	briefs, err := s.policies.Briefs(ctx, policyIDs(records))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]models.ConsentView, 0, len(records))
	for _, r := range records {
		v := models.ConsentView{Record: r}
		if b, ok := briefs[r.PolicyID]; ok {
			v.Policy = &b
		}
		if !r.Verify() {
			s.logger.WarnContext(ctx, "consent integrity check failed",
				"consent_id", r.ID,
				"policy_id", r.PolicyID,
			)
		}
		out = append(out, v)
	}
	span.SetAttributes(attribute.Int("consent.count", len(out)))
	return out, nil
}

// ListByPolicy returns every consent recorded against policy, newest first.
// The projection carries pseudonyms only, so it needs no subject binding.
func (s *Service) ListByPolicy(ctx context.Context, policy domain.PolicyID) ([]models.ConsentRecord, error) {
	ctx, span := tracer.Start(ctx, "consent.ListByPolicy",
		trace.WithAttributes(attribute.Int64("policy.id", int64(policy))))
	defer span.End()

	exists, err := s.policies.Exists(ctx, policy)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !exists {
		return nil, policymodels.ErrPolicyNotFound
	}
	records, err := s.store.ListByPolicy(ctx, policy)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	return records, nil
}

func (s *Service) emitRecorded(ctx context.Context, rec *models.ConsentRecord) error {
	if s.auditor == nil {
		return nil
	}
	err := s.auditor.Emit(ctx, audit.Event{
		Action:  audit.ActionConsentRecorded,
		Subject: rec.SubjectPseudonym,
		Detail: map[string]string{
			"consent_id":      strconv.FormatInt(rec.ID, 10),
			"policy_id":       rec.PolicyID.String(),
			"status":          string(rec.Status),
			"channel":         string(rec.Channel),
			"validation_hash": rec.ValidationHash,
		},
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func policyIDs(records []models.ConsentRecord) []domain.PolicyID {
	seen := make(map[domain.PolicyID]struct{}, len(records))
	ids := make([]domain.PolicyID, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.PolicyID]; ok {
			continue
		}
		seen[r.PolicyID] = struct{}{}
		ids = append(ids, r.PolicyID)
	}
	return ids
}
