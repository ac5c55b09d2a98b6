package auth

import (
	"context"
	"time"

	"github.com/cucumber/godog"
	"github.com/golang-jwt/jwt/v5"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	SubjectID(alias string) int64
	SetAuthorization(header string)
	SigningSecret() string
	TokenIssuer() string
}

// RegisterSteps registers credential steps. Credentials are minted locally
// with the secret the server is configured with.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &authSteps{tc: tc}

	ctx.Step(`^I am authenticated as "([^"]*)"$`, steps.authenticateAs)
	ctx.Step(`^I hold an expired credential for "([^"]*)"$`, steps.expiredCredentialFor)
	ctx.Step(`^I hold a credential for "([^"]*)" signed with another secret$`, steps.foreignCredentialFor)
	ctx.Step(`^I send no credential$`, steps.sendNoCredential)
	ctx.Step(`^I send the authorization header "([^"]*)"$`, steps.sendHeader)
}

type authSteps struct {
	tc TestContext
}

func (s *authSteps) mint(alias string, issuedAt time.Time, ttl time.Duration, secret string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": s.tc.SubjectID(alias),
		"iss":     s.tc.TokenIssuer(),
		"iat":     issuedAt.Unix(),
		"exp":     issuedAt.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *authSteps) authenticateAs(_ context.Context, alias string) error {
	token, err := s.mint(alias, time.Now(), time.Hour, s.tc.SigningSecret())
	if err != nil {
		return err
	}
	s.tc.SetAuthorization("Bearer " + token)
	return nil
}

func (s *authSteps) expiredCredentialFor(_ context.Context, alias string) error {
	token, err := s.mint(alias, time.Now().Add(-2*time.Hour), time.Hour, s.tc.SigningSecret())
	if err != nil {
		return err
	}
	s.tc.SetAuthorization("Bearer " + token)
	return nil
}

func (s *authSteps) foreignCredentialFor(_ context.Context, alias string) error {
	token, err := s.mint(alias, time.Now(), time.Hour, "a-different-secret-that-is-long-enough")
	if err != nil {
		return err
	}
	s.tc.SetAuthorization("Bearer " + token)
	return nil
}

func (s *authSteps) sendNoCredential(context.Context) error {
	s.tc.SetAuthorization("")
	return nil
}

func (s *authSteps) sendHeader(_ context.Context, header string) error {
	s.tc.SetAuthorization(header)
	return nil
}
