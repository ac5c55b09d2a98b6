package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names a compliance-relevant state change.
type Action string

const (
	// ActionConsentRecorded is emitted when the ledger accepts a consent event.
	// Subject carries the pseudonym, never the raw subject id.
	ActionConsentRecorded Action = "consent_recorded"

	// ActionSubjectKeyCreated is emitted on the first write for a subject.
	// Subject carries the raw subject id; no pseudonym is attached.
	ActionSubjectKeyCreated Action = "subject_key_created"

	// ActionSubjectForgotten is emitted when a subject key is destroyed.
	// Only the transition from active is recorded, not idempotent repeats.
	ActionSubjectForgotten Action = "subject_forgotten"
)

// Event is a transport-agnostic compliance record. The privacy boundary holds
// here too: an event names either a subject id or a pseudonym, never both.
type Event struct {
	ID        uuid.UUID
	Action    Action
	Subject   string
	Timestamp time.Time
	RequestID string
	Detail    map[string]string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
