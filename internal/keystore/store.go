package keystore

import (
	"context"
	"time"

	"consentvault/pkg/domain"
)

// Store persists subject key records. Implementations return
// sentinel.ErrNotFound from FindBySubject for unseen subjects.
type Store interface {
	FindBySubject(ctx context.Context, subject domain.SubjectID) (*Record, error)
	// InsertIfAbsent stores rec unless a record for the subject exists, and
	// returns whichever record is persisted afterwards. created is true only
	// for the caller whose insert won.
	InsertIfAbsent(ctx context.Context, rec Record) (stored *Record, created bool, err error)
	// MarkForgotten moves an active record to forgotten and drops its key.
	// It returns false when the record is already forgotten or absent.
	MarkForgotten(ctx context.Context, subject domain.SubjectID, at time.Time) (bool, error)
}
