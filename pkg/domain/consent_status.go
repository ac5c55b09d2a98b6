package domain

import (
	"strings"
	"unicode/utf8"

	dErrors "consentvault/pkg/domain-errors"
)

// ConsentStatus is the decision recorded by a consent event.
//
// Usage: construct via ParseSubmittedStatus at trust boundaries. Revoked exists
// in the ledger vocabulary but cannot be submitted on create.
type ConsentStatus string

const (
	ConsentStatusGiven   ConsentStatus = "given"
	ConsentStatusRefused ConsentStatus = "refused"
	ConsentStatusRevoked ConsentStatus = "revoked"
)

// submittableStatuses is the allowlist for new consent submissions.
var submittableStatuses = map[ConsentStatus]bool{
	ConsentStatusGiven:   true,
	ConsentStatusRefused: true,
}

// ParseSubmittedStatus validates a status supplied on a new consent event.
//
// Errors: returns CodeInvalidInput when the value is empty or is not one of
// given/refused.
func ParseSubmittedStatus(s string) (ConsentStatus, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "status cannot be empty")
	}
	st := ConsentStatus(s)
	if !submittableStatuses[st] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "status must be 'given' or 'refused'")
	}
	return st, nil
}

// IsValid reports whether the status belongs to the ledger vocabulary.
func (s ConsentStatus) IsValid() bool {
	return s == ConsentStatusGiven || s == ConsentStatusRefused || s == ConsentStatusRevoked
}

// MaxChannelLength matches the width of the ledger's channel column.
const MaxChannelLength = 50

// Channel is the free-text origin tag of a consent event (e.g. "web", "chatbot").
type Channel string

// ParseChannel trims surrounding whitespace and enforces 1..MaxChannelLength characters.
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "channel cannot be empty")
	}
	if utf8.RuneCountInString(s) > MaxChannelLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "channel exceeds 50 characters")
	}
	return Channel(s), nil
}
