package domain

import (
	"strconv"
	"strings"

	dErrors "consentvault/pkg/domain-errors"
)

// maxIDLength bounds decimal id input before parsing; int64 needs at most 19 digits.
const maxIDLength = 19

// SubjectID identifies the individual whose consent is tracked.
// Invariant: strictly positive.
type SubjectID int64

// PolicyID identifies a published privacy policy.
// Invariant: strictly positive.
type PolicyID int64

// ParseSubjectID constructs a SubjectID from external input such as a path segment.
//
// Errors: returns CodeInvalidInput when the value is empty, not a base-10
// integer, or not positive.
func ParseSubjectID(s string) (SubjectID, error) {
	n, err := parsePositive(s, "subject id")
	if err != nil {
		return 0, err
	}
	return SubjectID(n), nil
}

// ParsePolicyID constructs a PolicyID from external input.
func ParsePolicyID(s string) (PolicyID, error) {
	n, err := parsePositive(s, "policy id")
	if err != nil {
		return 0, err
	}
	return PolicyID(n), nil
}

func parsePositive(s, field string) (int64, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be empty")
	}
	// Canonical decimal only: no sign, no leading zeros, no padding.
	if len(s) > maxIDLength || strings.TrimSpace(s) != s || s[0] == '0' || s[0] == '+' {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	return n, nil
}

func (id SubjectID) IsZero() bool { return id <= 0 }

func (id SubjectID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id PolicyID) IsZero() bool { return id <= 0 }

func (id PolicyID) String() string { return strconv.FormatInt(int64(id), 10) }
