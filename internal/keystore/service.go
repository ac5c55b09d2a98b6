// Package keystore owns one secret key per subject and exposes only what can
// be derived from it. Keys are created lazily on a subject's first consent
// write and destroyed on forget; a forgotten subject never gets a new key.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentvault/internal/pseudonym"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	audit "consentvault/pkg/platform/audit"
	"consentvault/pkg/platform/sentinel"
	"consentvault/pkg/platform/tx"
	"consentvault/pkg/requestcontext"
)

var (
	ErrSubjectErased  = dErrors.New(dErrors.CodeSubjectErased, "subject has been forgotten")
	ErrSubjectUnknown = dErrors.New(dErrors.CodeNotFound, "subject has no key")
)

var tracer = otel.Tracer("consentvault/keystore")

// AuditPublisher emits compliance events; a failed emit fails the operation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Metrics is the subset of platform metrics the key store reports.
type Metrics interface {
	IncKeyCreated()
	IncErasedWriteAttempt()
}

// Service resolves subject pseudonyms and erases subject keys.
type Service struct {
	store   Store
	wrapper *Wrapper
	tx      tx.Runner
	auditor AuditPublisher
	metrics Metrics
	logger  *slog.Logger
}

// Option configures the Service.
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

func NewService(store Store, wrapper *Wrapper, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:   store,
		wrapper: wrapper,
		tx:      runner,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolvePseudonym returns the subject's pseudonym, creating the subject key
// on first use. A forgotten subject fails with ErrSubjectErased. When called
// inside a unit of work the key creation joins it.
func (s *Service) ResolvePseudonym(ctx context.Context, subject domain.SubjectID) (string, error) {
	ctx, span := tracer.Start(ctx, "keystore.ResolveOrCreate",
		trace.WithAttributes(attribute.Int64("subject.id", int64(subject))))
	defer span.End()

	var p string
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		key, err := s.resolveOrCreate(ctx, subject)
		if err != nil {
			return err
		}
		p, err = pseudonym.Derive(subject, key.key)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return "", err
	}
	return p, nil
}

// LookupPseudonym returns the pseudonym of an existing active subject without
// creating anything.
func (s *Service) LookupPseudonym(ctx context.Context, subject domain.SubjectID) (string, error) {
	rec, err := s.store.FindBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", ErrSubjectUnknown
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject key")
	}
	if !rec.IsActive() {
		return "", ErrSubjectErased
	}
	key, err := s.unwrap(ctx, rec)
	if err != nil {
		return "", err
	}
	return pseudonym.Derive(subject, key.key)
}

// Erase destroys the subject key. It returns true only for the call that
// moved the subject from active to forgotten; unseen and already forgotten
// subjects return false.
func (s *Service) Erase(ctx context.Context, subject domain.SubjectID) (bool, error) {
	ctx, span := tracer.Start(ctx, "keystore.Erase",
		trace.WithAttributes(attribute.Int64("subject.id", int64(subject))))
	defer span.End()

	var erased bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		erased, err = s.store.MarkForgotten(ctx, subject, requestcontext.Now(ctx))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to erase subject key")
		}
		if !erased {
			return nil
		}
		return s.emit(ctx, audit.ActionSubjectForgotten, subject)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "erase failed")
		return false, err
	}
	span.SetAttributes(attribute.Bool("subject.erased", erased))
	return erased, nil
}

func (s *Service) resolveOrCreate(ctx context.Context, subject domain.SubjectID) (SubjectKey, error) {
	rec, err := s.store.FindBySubject(ctx, subject)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		return s.create(ctx, subject)
	default:
		return SubjectKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject key")
	}

	if !rec.IsActive() {
		if s.metrics != nil {
			s.metrics.IncErasedWriteAttempt()
		}
		return SubjectKey{}, ErrSubjectErased
	}
	return s.unwrap(ctx, rec)
}

func (s *Service) create(ctx context.Context, subject domain.SubjectID) (SubjectKey, error) {
	raw, err := newSubjectKey()
	if err != nil {
		return SubjectKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate subject key")
	}
	wrapped, err := s.wrapper.Wrap(subject, raw)
	if err != nil {
		return SubjectKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to wrap subject key")
	}

	stored, created, err := s.store.InsertIfAbsent(ctx, Record{
		SubjectID:  subject,
		State:      StateActive,
		WrappedKey: wrapped,
		KEKID:      s.wrapper.KEKID(),
		CreatedAt:  requestcontext.Now(ctx),
	})
	if err != nil {
		return SubjectKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store subject key")
	}
	if !created {
		// Lost a first-write race; the winner's record is authoritative.
		if !stored.IsActive() {
			return SubjectKey{}, ErrSubjectErased
		}
		return s.unwrap(ctx, stored)
	}

	if err := s.emit(ctx, audit.ActionSubjectKeyCreated, subject); err != nil {
		return SubjectKey{}, err
	}
	if s.metrics != nil {
		s.metrics.IncKeyCreated()
	}
	return SubjectKey{SubjectID: subject, CreatedAt: stored.CreatedAt, key: raw}, nil
}

func (s *Service) unwrap(ctx context.Context, rec *Record) (SubjectKey, error) {
	key, err := s.wrapper.Unwrap(rec.SubjectID, rec.KEKID, rec.WrappedKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "subject key unwrap failed", "subject_id", rec.SubjectID, "error", err)
		return SubjectKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unwrap subject key")
	}
	return SubjectKey{SubjectID: rec.SubjectID, CreatedAt: rec.CreatedAt, key: key}, nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, subject domain.SubjectID) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, audit.Event{Action: action, Subject: subject.String()}); err != nil {
		return dErrors.Wrap(fmt.Errorf("%s: %w", action, err), dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
