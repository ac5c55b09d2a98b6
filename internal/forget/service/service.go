// Package service coordinates forgetting a subject. Forgetting destroys the
// subject key and nothing else: ledger rows stay, but can no longer be
// linked back to the subject.
package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentvault/pkg/domain"
)

var tracer = otel.Tracer("consentvault/forget")

// KeyEraser destroys subject keys. Erase reports true only for the call that
// moved the subject out of the active state.
type KeyEraser interface {
	Erase(ctx context.Context, subject domain.SubjectID) (bool, error)
}

type Metrics interface {
	IncSubjectForgotten(first bool)
}

// Result is the outcome of a forget request.
type Result struct {
	AlreadyForgotten bool `json:"already_forgotten"`
}

type Service struct {
	keys    KeyEraser
	metrics Metrics
	logger  *slog.Logger
}

type Option func(*Service)

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(keys KeyEraser, opts ...Option) *Service {
	s := &Service{keys: keys, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Forget erases the subject key. It is idempotent: repeated and concurrent
// calls converge, and only the first reports AlreadyForgotten false. A
// subject that never wrote anything also reports AlreadyForgotten true.
func (s *Service) Forget(ctx context.Context, subject domain.SubjectID) (Result, error) {
	ctx, span := tracer.Start(ctx, "forget.Forget",
		trace.WithAttributes(attribute.Int64("subject.id", int64(subject))))
	defer span.End()

	erased, err := s.keys.Erase(ctx, subject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "forget failed")
		return Result{}, err
	}

	if s.metrics != nil {
		s.metrics.IncSubjectForgotten(erased)
	}
	if erased {
		s.logger.InfoContext(ctx, "subject forgotten", "subject_id", subject)
	}
	return Result{AlreadyForgotten: !erased}, nil
}
