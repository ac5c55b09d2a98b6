// Package auth verifies bearer credentials and enforces that a caller only
// acts on its own subject.
package auth

import (
	"errors"

	jwttoken "consentvault/internal/jwt_token"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
)

// Credential and authorization failures. The messages double as the
// auth-failure metric reason.
var (
	ErrCredentialMissing = dErrors.New(dErrors.CodeUnauthorized, "credential missing")
	ErrCredentialExpired = dErrors.New(dErrors.CodeUnauthorized, "credential expired")
	ErrCredentialInvalid = dErrors.New(dErrors.CodeUnauthorized, "credential invalid")
	ErrIdentityMismatch  = dErrors.New(dErrors.CodeForbidden, "credential does not belong to the requested subject")
)

// TokenValidator is the subset of jwttoken.JWTService the verifier needs.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

// Verifier turns a raw bearer credential into the subject it was issued to.
type Verifier struct {
	tokens TokenValidator
}

func NewVerifier(tokens TokenValidator) *Verifier {
	return &Verifier{tokens: tokens}
}

// Verify validates the credential. An empty credential is missing; anything
// that fails parsing, signature, or issuer checks is invalid.
func (v *Verifier) Verify(credential string) (domain.SubjectID, error) {
	if credential == "" {
		return 0, ErrCredentialMissing
	}

	claims, err := v.tokens.ValidateToken(credential)
	if err != nil {
		if errors.Is(err, jwttoken.ErrTokenExpired) {
			return 0, ErrCredentialExpired
		}
		return 0, ErrCredentialInvalid
	}

	subject, err := claims.Subject()
	if err != nil {
		return 0, ErrCredentialInvalid
	}
	return subject, nil
}

// AuthorizeSameSubject is the single rule binding a verified caller to the
// subject named in a request.
func AuthorizeSameSubject(claimed, requested domain.SubjectID) error {
	if claimed.IsZero() || claimed != requested {
		return ErrIdentityMismatch
	}
	return nil
}
