package models

import (
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
)

// RecordConsentRequest is the POST /consents body. Pointer fields distinguish
// a missing field from a zero value.
type RecordConsentRequest struct {
	SubjectID *int64  `json:"id_user"`
	PolicyID  *int64  `json:"id_policy"`
	Channel   *string `json:"channel"`
	Status    *string `json:"status"`
}

// Validate checks every field and returns the domain command.
func (r *RecordConsentRequest) Validate() (RecordCommand, error) {
	if r.SubjectID == nil {
		return RecordCommand{}, dErrors.New(dErrors.CodeInvalidInput, "id_user is required")
	}
	if r.PolicyID == nil {
		return RecordCommand{}, dErrors.New(dErrors.CodeInvalidInput, "id_policy is required")
	}
	if r.Channel == nil {
		return RecordCommand{}, dErrors.New(dErrors.CodeInvalidInput, "channel is required")
	}
	if r.Status == nil {
		return RecordCommand{}, dErrors.New(dErrors.CodeInvalidInput, "status is required")
	}
	if *r.SubjectID <= 0 {
		return RecordCommand{}, dErrors.New(dErrors.CodeInvalidInput, "id_user must be a positive integer")
	}
	if *r.PolicyID <= 0 {
		return RecordCommand{}, dErrors.New(dErrors.CodeInvalidInput, "id_policy must be a positive integer")
	}
	channel, err := domain.ParseChannel(*r.Channel)
	if err != nil {
		return RecordCommand{}, err
	}
	status, err := domain.ParseSubmittedStatus(*r.Status)
	if err != nil {
		return RecordCommand{}, err
	}
	return RecordCommand{
		Subject: domain.SubjectID(*r.SubjectID),
		Policy:  domain.PolicyID(*r.PolicyID),
		Channel: channel,
		Status:  status,
	}, nil
}
