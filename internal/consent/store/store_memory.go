package store

import (
	"context"
	"sync"

	"consentvault/internal/consent/models"
	"consentvault/pkg/domain"
	"consentvault/pkg/platform/sentinel"
	"consentvault/pkg/platform/tx"
)

// InMemoryStore is the process-local ledger. The validation hash index
// enforces global uniqueness the same way the Postgres constraint does.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []models.ConsentRecord
	byHash  map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1, byHash: make(map[string]int64)}
}

// Append assigns rec an id and stores it. A repeated validation hash returns
// sentinel.ErrConflict and stores nothing.
func (s *InMemoryStore) Append(ctx context.Context, rec *models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byHash[rec.ValidationHash]; dup {
		return sentinel.ErrConflict
	}
	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, *rec)
	s.byHash[rec.ValidationHash] = rec.ID

	id, hash := rec.ID, rec.ValidationHash
	tx.OnRollback(ctx, func() { s.withdraw(id, hash) })
	return nil
}

func (s *InMemoryStore) ListByPseudonym(_ context.Context, pseudonym string) ([]models.ConsentRecord, error) {
	return s.filter(func(r *models.ConsentRecord) bool { return r.SubjectPseudonym == pseudonym }), nil
}

func (s *InMemoryStore) ListByPolicy(_ context.Context, policy domain.PolicyID) ([]models.ConsentRecord, error) {
	return s.filter(func(r *models.ConsentRecord) bool { return r.PolicyID == policy }), nil
}

func (s *InMemoryStore) filter(keep func(*models.ConsentRecord) bool) []models.ConsentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConsentRecord, 0)
	for i := range s.records {
		if keep(&s.records[i]) {
			out = append(out, s.records[i])
		}
	}
	sortNewestFirst(out)
	return out
}

// withdraw undoes an Append whose unit of work failed.
func (s *InMemoryStore) withdraw(id int64, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			break
		}
	}
	delete(s.byHash, hash)
}
