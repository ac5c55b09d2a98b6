package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	"consentvault/pkg/platform/sentinel"
)

var ErrDuplicatePolicy = dErrors.New(dErrors.CodeConflict, "policy content already published")

// Store is the policy catalog persistence port.
type Store interface {
	Create(ctx context.Context, p models.Policy) (*models.Policy, error)
	Get(ctx context.Context, id domain.PolicyID) (*models.Policy, error)
	List(ctx context.Context) ([]models.Policy, error)
	Latest(ctx context.Context) (*models.Policy, error)
}

// CacheInvalidator drops cached briefs after the catalog changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...domain.PolicyID) error
}

// Service serves the read side of the policy catalog and publishes new
// versions. Publishing is an operator action with no HTTP surface.
type Service struct {
	store  Store
	cache  CacheInvalidator
	logger *slog.Logger
}

type Option func(*Service)

func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every published policy, newest first. An empty catalog is an
// empty slice, not an error.
func (s *Service) List(ctx context.Context) ([]models.Policy, error) {
	policies, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list policies")
	}
	if policies == nil {
		policies = []models.Policy{}
	}
	return policies, nil
}

// Latest returns the most recently published policy or ErrNoPolicies.
func (s *Service) Latest(ctx context.Context) (*models.Policy, error) {
	p, err := s.store.Latest(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.ErrNoPolicies
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest policy")
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id domain.PolicyID) (*models.Policy, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.ErrPolicyNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load policy")
	}
	return p, nil
}

// Publish adds a policy version to the catalog. The content hash must be a
// lowercase hex SHA-256 digest and must not have been published before.
func (s *Service) Publish(ctx context.Context, p models.Policy) (*models.Policy, error) {
	if err := validatePolicy(p); err != nil {
		return nil, err
	}
	p.PublishedAt = p.PublishedAt.UTC()
	created, err := s.store.Create(ctx, p)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, ErrDuplicatePolicy
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to publish policy")
	}
	if s.cache != nil {
		// A lookup for this id may have been cached as absent.
		if err := s.cache.Invalidate(ctx, created.ID); err != nil {
			s.logger.WarnContext(ctx, "policy cache invalidation failed",
				"policy_id", created.ID,
				"error", err,
			)
		}
	}
	s.logger.InfoContext(ctx, "policy published",
		"policy_id", created.ID,
		"version", created.Version,
	)
	return created, nil
}

func validatePolicy(p models.Policy) error {
	if strings.TrimSpace(p.Version) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "version is required")
	}
	if p.PublishedAt.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "published_at is required")
	}
	if !isHexDigest(p.ContentHash) {
		return dErrors.New(dErrors.CodeInvalidInput, "content_hash must be a hex sha-256 digest")
	}
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
