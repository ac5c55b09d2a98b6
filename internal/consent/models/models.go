package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	policymodels "consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
)

var (
	ErrDuplicateConsentEvent = dErrors.New(dErrors.CodeConflict, "duplicate consent event")
	ErrNoConsents            = dErrors.New(dErrors.CodeNotFound, "no consents found for subject")
)

// ConsentRecord is one immutable ledger entry. It carries the subject's
// pseudonym only; the ledger has no field that could hold a subject id.
type ConsentRecord struct {
	ID               int64
	SubjectPseudonym string
	PolicyID         domain.PolicyID
	CreatedAt        time.Time
	Channel          domain.Channel
	Status           domain.ConsentStatus
	ValidationHash   string
}

// NewConsentRecord stamps a new ledger entry at now and seals it with its
// validation hash. The timestamp is cut to microseconds so a value read back
// from Postgres reproduces the same hash.
func NewConsentRecord(pseudonym string, policy domain.PolicyID, channel domain.Channel, status domain.ConsentStatus, now time.Time) ConsentRecord {
	rec := ConsentRecord{
		SubjectPseudonym: pseudonym,
		PolicyID:         policy,
		CreatedAt:        now.UTC().Truncate(time.Microsecond),
		Channel:          channel,
		Status:           status,
	}
	rec.ValidationHash = ComputeValidationHash(rec.SubjectPseudonym, rec.PolicyID, rec.CreatedAt, rec.Channel, rec.Status)
	return rec
}

// ComputeValidationHash returns the hex SHA-256 digest of
// pseudonym:policy:created_at:channel:status, with created_at in RFC 3339 UTC.
func ComputeValidationHash(pseudonym string, policy domain.PolicyID, createdAt time.Time, channel domain.Channel, status domain.ConsentStatus) string {
	input := strings.Join([]string{
		pseudonym,
		strconv.FormatInt(int64(policy), 10),
		createdAt.UTC().Format(time.RFC3339Nano),
		string(channel),
		string(status),
	}, ":")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored hash still matches the record's fields.
func (c *ConsentRecord) Verify() bool {
	return c.ValidationHash == ComputeValidationHash(c.SubjectPseudonym, c.PolicyID, c.CreatedAt, c.Channel, c.Status)
}

// ConsentView is a ledger entry joined with its policy brief. Policy is nil
// when the policy is no longer resolvable.
type ConsentView struct {
	Record ConsentRecord
	Policy *policymodels.Brief
}

// RecordCommand is a validated consent submission.
type RecordCommand struct {
	Subject domain.SubjectID
	Policy  domain.PolicyID
	Channel domain.Channel
	Status  domain.ConsentStatus
}
