package models

import (
	"time"

	policymodels "consentvault/internal/policy/models"
	"consentvault/pkg/domain"
)

const recordedMessage = "consent recorded"

// ConsentResponse is a ledger entry as returned to its owner.
type ConsentResponse struct {
	ID               int64               `json:"id"`
	SubjectPseudonym string              `json:"subject_pseudonym"`
	PolicyID         domain.PolicyID     `json:"id_policy"`
	CreatedAt        time.Time           `json:"created_at"`
	Channel          string              `json:"channel"`
	ValidationHash   string              `json:"validation_hash"`
	Status           string              `json:"status"`
	IntegrityOK      bool                `json:"integrity_ok"`
	PolicyInfo       *policymodels.Brief `json:"policy_info"`
}

// RecordConsentResponse is the 201 body of POST /consents.
type RecordConsentResponse struct {
	Message string          `json:"message"`
	Consent ConsentResponse `json:"consent"`
}

// PolicyConsentResponse is the privacy-safe projection listed per policy.
type PolicyConsentResponse struct {
	ID               int64     `json:"id"`
	SubjectPseudonym string    `json:"subject_pseudonym"`
	CreatedAt        time.Time `json:"created_at"`
	Channel          string    `json:"channel"`
}

func ToConsentResponse(v *ConsentView) ConsentResponse {
	return ConsentResponse{
		ID:               v.Record.ID,
		SubjectPseudonym: v.Record.SubjectPseudonym,
		PolicyID:         v.Record.PolicyID,
		CreatedAt:        v.Record.CreatedAt.UTC(),
		Channel:          string(v.Record.Channel),
		ValidationHash:   v.Record.ValidationHash,
		Status:           string(v.Record.Status),
		IntegrityOK:      v.Record.Verify(),
		PolicyInfo:       v.Policy,
	}
}

func ToRecordConsentResponse(v *ConsentView) RecordConsentResponse {
	return RecordConsentResponse{Message: recordedMessage, Consent: ToConsentResponse(v)}
}

func ToConsentList(views []ConsentView) []ConsentResponse {
	out := make([]ConsentResponse, 0, len(views))
	for i := range views {
		out = append(out, ToConsentResponse(&views[i]))
	}
	return out
}

func ToPolicyConsentList(records []ConsentRecord) []PolicyConsentResponse {
	out := make([]PolicyConsentResponse, 0, len(records))
	for _, r := range records {
		out = append(out, PolicyConsentResponse{
			ID:               r.ID,
			SubjectPseudonym: r.SubjectPseudonym,
			CreatedAt:        r.CreatedAt.UTC(),
			Channel:          string(r.Channel),
		})
	}
	return out
}
