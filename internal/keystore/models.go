package keystore

import (
	"time"

	"consentvault/pkg/domain"
)

// State is the lifecycle tag of a subject key. Forgotten is terminal.
type State string

const (
	StateActive    State = "active"
	StateForgotten State = "forgotten"
)

// Record is the persisted form of a subject key. WrappedKey and KEKID are set
// exactly when State is active.
type Record struct {
	SubjectID   domain.SubjectID
	State       State
	WrappedKey  []byte
	KEKID       string
	CreatedAt   time.Time
	ForgottenAt *time.Time
}

// IsActive reports whether the record still holds a key.
func (r *Record) IsActive() bool {
	return r.State == StateActive && len(r.WrappedKey) > 0
}

// SubjectKey is an unwrapped subject key. The key bytes never leave this
// package; callers receive only the pseudonym derived from them.
type SubjectKey struct {
	SubjectID domain.SubjectID
	CreatedAt time.Time
	key       []byte
}
