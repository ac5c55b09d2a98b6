package keystore

import (
	"context"
	"sync"
	"time"

	"consentvault/pkg/domain"
	"consentvault/pkg/platform/sentinel"
	"consentvault/pkg/platform/tx"
)

// InMemoryStore keeps subject keys in process. Records are copied in and out
// so callers never share the stored slice.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.SubjectID]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.SubjectID]Record)}
}

func (s *InMemoryStore) FindBySubject(_ context.Context, subject domain.SubjectID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[subject]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryStore) InsertIfAbsent(ctx context.Context, rec Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.SubjectID]; ok {
		return cloneRecord(existing), false, nil
	}
	s.records[rec.SubjectID] = *cloneRecord(rec)
	tx.OnRollback(ctx, func() { s.restore(rec.SubjectID, nil) })
	return cloneRecord(rec), true, nil
}

func (s *InMemoryStore) MarkForgotten(ctx context.Context, subject domain.SubjectID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[subject]
	if !ok || rec.State != StateActive {
		return false, nil
	}
	prev := cloneRecord(rec)
	tx.OnRollback(ctx, func() { s.restore(subject, prev) })
	rec.State = StateForgotten
	rec.WrappedKey = nil
	rec.KEKID = ""
	rec.ForgottenAt = &at
	s.records[subject] = rec
	return true, nil
}

// restore puts back prev, or removes the subject when prev is nil.
func (s *InMemoryStore) restore(subject domain.SubjectID, prev *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == nil {
		delete(s.records, subject)
		return
	}
	s.records[subject] = *prev
}

func cloneRecord(r Record) *Record {
	out := r
	if r.WrappedKey != nil {
		out.WrappedKey = append([]byte(nil), r.WrappedKey...)
	}
	if r.ForgottenAt != nil {
		t := *r.ForgottenAt
		out.ForgottenAt = &t
	}
	return &out
}
