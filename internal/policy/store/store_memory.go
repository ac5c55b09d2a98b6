package store

import (
	"context"
	"slices"
	"sync"

	"consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	"consentvault/pkg/platform/sentinel"
)

// InMemoryStore keeps policies in process; ids are assigned sequentially.
type InMemoryStore struct {
	mu       sync.RWMutex
	nextID   domain.PolicyID
	policies map[domain.PolicyID]models.Policy
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1, policies: make(map[domain.PolicyID]models.Policy)}
}

// Create assigns an id and stores p. A repeated content hash is a conflict.
func (s *InMemoryStore) Create(_ context.Context, p models.Policy) (*models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.policies {
		if existing.ContentHash == p.ContentHash {
			return nil, sentinel.ErrConflict
		}
	}
	p.ID = s.nextID
	s.nextID++
	s.policies[p.ID] = p
	return &p, nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.PolicyID) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

// List returns policies newest first.
func (s *InMemoryStore) List(_ context.Context) ([]models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	slices.SortFunc(out, newestFirst)
	return out, nil
}

func (s *InMemoryStore) Latest(ctx context.Context) (*models.Policy, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return &all[0], nil
}

func (s *InMemoryStore) Brief(ctx context.Context, id domain.PolicyID) (models.Brief, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return models.Brief{}, err
	}
	return p.Brief(), nil
}

func (s *InMemoryStore) Briefs(_ context.Context, ids []domain.PolicyID) (map[domain.PolicyID]models.Brief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.PolicyID]models.Brief, len(ids))
	for _, id := range ids {
		if p, ok := s.policies[id]; ok {
			out[id] = p.Brief()
		}
	}
	return out, nil
}

func newestFirst(a, b models.Policy) int {
	if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}
