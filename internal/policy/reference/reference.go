// Package reference answers the two questions the consent ledger asks about a
// policy: does it exist, and what is its brief projection. Lookups can be
// cached in Redis and are always bounded by a timeout.
package reference

import (
	"context"
	"errors"
	"time"

	"consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/platform/sentinel"
)

// Reference is a policy lookup backend. Brief returns sentinel.ErrNotFound
// for unknown ids; Briefs omits them.
type Reference interface {
	Brief(ctx context.Context, id domain.PolicyID) (models.Brief, error)
	Briefs(ctx context.Context, ids []domain.PolicyID) (map[domain.PolicyID]models.Brief, error)
}

// LookupObserver records lookup latency by outcome.
type LookupObserver interface {
	ObservePolicyLookup(outcome string, seconds float64)
}

// BoundedReference applies the lookup timeout and translates backend results
// into ErrPolicyNotFound and ErrPolicyLookupFailed.
type BoundedReference struct {
	next     Reference
	timeout  time.Duration
	observer LookupObserver
}

func NewBoundedReference(next Reference, timeout time.Duration, observer LookupObserver) *BoundedReference {
	return &BoundedReference{next: next, timeout: timeout, observer: observer}
}

// Exists reports whether id names a published policy.
func (r *BoundedReference) Exists(ctx context.Context, id domain.PolicyID) (bool, error) {
	_, err := r.Brief(ctx, id)
	if errors.Is(err, models.ErrPolicyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *BoundedReference) Brief(ctx context.Context, id domain.PolicyID) (models.Brief, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	b, err := r.next.Brief(ctx, id)
	switch {
	case err == nil:
		r.observe("found", start)
		return b, nil
	case errors.Is(err, sentinel.ErrNotFound):
		r.observe("not_found", start)
		return models.Brief{}, models.ErrPolicyNotFound
	default:
		r.observe("failed", start)
		return models.Brief{}, lookupFailed(err)
	}
}

func (r *BoundedReference) Briefs(ctx context.Context, ids []domain.PolicyID) (map[domain.PolicyID]models.Brief, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := r.next.Briefs(ctx, ids)
	if err != nil {
		r.observe("failed", start)
		return nil, lookupFailed(err)
	}
	r.observe("found", start)
	return out, nil
}

func (r *BoundedReference) observe(outcome string, start time.Time) {
	if r.observer != nil {
		r.observer.ObservePolicyLookup(outcome, time.Since(start).Seconds())
	}
}

// lookupFailed matches ErrPolicyLookupFailed under errors.Is and keeps the
// backend cause reachable for logging.
func lookupFailed(err error) error {
	return dErrors.Wrap(err, dErrors.CodeUnavailable, models.ErrPolicyLookupFailed.Message)
}
