package models

import (
	"time"

	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
)

var (
	ErrPolicyNotFound     = dErrors.New(dErrors.CodeNotFound, "policy not found")
	ErrPolicyLookupFailed = dErrors.New(dErrors.CodeUnavailable, "policy lookup failed")
	ErrNoPolicies         = dErrors.New(dErrors.CodeNotFound, "no policies published")
)

// Policy is a published privacy policy version. The document itself lives in
// external object storage; only its location and content hash are kept here.
type Policy struct {
	ID              domain.PolicyID
	Version         string
	PublishedAt     time.Time
	Description     string
	StorageLocation string
	ContentHash     string
}

// Brief is the projection embedded in consent responses.
type Brief struct {
	ID          domain.PolicyID `json:"id"`
	Version     string          `json:"version"`
	PublishedAt time.Time       `json:"published_at"`
}

func (p *Policy) Brief() Brief {
	return Brief{ID: p.ID, Version: p.Version, PublishedAt: p.PublishedAt}
}

// PolicyResponse is the JSON form of a policy.
type PolicyResponse struct {
	ID              domain.PolicyID `json:"id"`
	Version         string          `json:"version"`
	PublishedAt     time.Time       `json:"published_at"`
	Description     string          `json:"description"`
	StorageLocation string          `json:"storage_location"`
	ContentHash     string          `json:"content_hash"`
}

func ToResponse(p *Policy) PolicyResponse {
	return PolicyResponse{
		ID:              p.ID,
		Version:         p.Version,
		PublishedAt:     p.PublishedAt.UTC(),
		Description:     p.Description,
		StorageLocation: p.StorageLocation,
		ContentHash:     p.ContentHash,
	}
}
