package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	jwttoken "consentvault/internal/jwt_token"
	"consentvault/pkg/domain"
)

const (
	TestSigningKey = "test-signing-key-at-least-32-bytes!!"
	TestIssuer     = "consentvault-test-idp"
)

// NewTokenService returns the token service tests mint and verify with.
func NewTokenService() *jwttoken.JWTService {
	return jwttoken.NewJWTService(TestSigningKey, TestIssuer, 0)
}

// MintToken issues a bearer credential for subject valid for an hour.
func MintToken(t *testing.T, subject domain.SubjectID) string {
	t.Helper()
	token, err := NewTokenService().GenerateAccessToken(subject, time.Hour)
	require.NoError(t, err, "failed to mint token")
	return token
}
