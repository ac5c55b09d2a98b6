package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	consentmodels "consentvault/internal/consent/models"
	jwttoken "consentvault/internal/jwt_token"
	"consentvault/internal/platform/config"
	policymodels "consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	"consentvault/pkg/testutil"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{RequestTimeout: 5 * time.Second},
		Storage: config.StorageConfig{Backend: config.BackendMemory, TxTimeout: 2 * time.Second},
		Auth:    config.AuthConfig{JWTSecret: testutil.TestSigningKey, Issuer: testutil.TestIssuer},
		Keys:    config.KeysConfig{MasterKey: base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))},
		Policy:  config.PolicyConfig{LookupTimeout: time.Second},
		Log:     config.LogConfig{Level: "error", Format: "text"},
	}
}

// FlowSuite drives the public HTTP surface end to end. reset, when set,
// clears shared backends before each test.
type FlowSuite struct {
	suite.Suite
	cfg    *config.Config
	reset  func(ctx context.Context) error
	app    *App
	policy domain.PolicyID
}

func TestMemoryFlowSuite(t *testing.T) {
	suite.Run(t, &FlowSuite{cfg: memoryConfig()})
}

func (s *FlowSuite) SetupTest() {
	ctx := context.Background()
	if s.reset != nil {
		s.Require().NoError(s.reset(ctx))
	}
	a, err := New(ctx, s.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	s.Require().NoError(err)
	s.app = a
	s.T().Cleanup(func() { _ = a.Close() })

	p, err := a.Policies.Publish(ctx, policymodels.Policy{
		Version:         "1.0.0",
		PublishedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Description:     "Privacy policy",
		StorageLocation: "s3://policies/1.0.0.pdf",
		ContentHash:     strings.Repeat("ab", 32),
	})
	s.Require().NoError(err)
	s.policy = p.ID
}

func (s *FlowSuite) do(method, path, token string, body any) *http.Response {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if token != "" {
		testutil.WithBearer(req, token)
	}
	return testutil.DoRequest(s.app.Handler, req).Result()
}

func (s *FlowSuite) consentBody(subject domain.SubjectID) map[string]any {
	return map[string]any{"id_user": subject, "id_policy": s.policy, "channel": "web", "status": "given"}
}

func decode[T any](s *FlowSuite, resp *http.Response) T {
	defer resp.Body.Close()
	var out T
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(raw, &out), string(raw))
	return out
}

func (s *FlowSuite) TestRecordListForget() {
	token := testutil.MintToken(s.T(), 42)
	policyPath := "/consents/policy/" + s.policy.String()

	resp := s.do(http.MethodPost, "/consents", token, s.consentBody(42))
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	created := decode[consentmodels.RecordConsentResponse](s, resp)
	p := created.Consent.SubjectPseudonym
	s.Len(p, 64)
	s.Require().NotNil(created.Consent.PolicyInfo)
	s.Equal("1.0.0", created.Consent.PolicyInfo.Version)

	resp = s.do(http.MethodGet, "/consents/user/42", token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	mine := decode[[]consentmodels.ConsentResponse](s, resp)
	s.Require().Len(mine, 1)
	s.Equal(p, mine[0].SubjectPseudonym)
	s.True(mine[0].IntegrityOK)

	resp = s.do(http.MethodDelete, "/users/42/forget", token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal(map[string]bool{"already_forgotten": false}, decode[map[string]bool](s, resp))

	resp = s.do(http.MethodGet, "/consents/user/42", token, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, policyPath, token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	trail := decode[[]consentmodels.PolicyConsentResponse](s, resp)
	s.Require().Len(trail, 1)
	s.Equal(p, trail[0].SubjectPseudonym)

	resp = s.do(http.MethodPost, "/consents", token, s.consentBody(42))
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("subject_erased", decode[map[string]string](s, resp)["error"])

	resp = s.do(http.MethodDelete, "/users/42/forget", token, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal(map[string]bool{"already_forgotten": true}, decode[map[string]bool](s, resp))
}

func (s *FlowSuite) TestIdentityBinding() {
	token := testutil.MintToken(s.T(), 7)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/consents", s.consentBody(8)},
		{http.MethodGet, "/consents/user/8", nil},
		{http.MethodDelete, "/users/8/forget", nil},
	} {
		resp := s.do(tc.method, tc.path, token, tc.body)
		s.Equal(http.StatusForbidden, resp.StatusCode, tc.method+" "+tc.path)
		s.Equal("forbidden", decode[map[string]string](s, resp)["error"])
	}
}

func (s *FlowSuite) TestCredentials() {
	expired, err := jwttoken.NewJWTService(testutil.TestSigningKey, testutil.TestIssuer, 0,
		jwttoken.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }),
	).GenerateAccessToken(42, time.Hour)
	s.Require().NoError(err)
	foreign, err := jwttoken.NewJWTService(strings.Repeat("x", 40), testutil.TestIssuer, 0).GenerateAccessToken(42, time.Hour)
	s.Require().NoError(err)

	cases := map[string]struct {
		header      string
		description string
	}{
		"missing":      {"", "credential missing"},
		"not bearer":   {"Basic Zm9vOmJhcg==", "credential invalid"},
		"garbage":      {"Bearer not-a-jwt", "credential invalid"},
		"wrong secret": {"Bearer " + foreign, "credential invalid"},
		"expired":      {"Bearer " + expired, "credential expired"},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/consents/user/42", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := testutil.DoRequest(s.app.Handler, req)
			testutil.AssertError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
			s.Contains(rr.Body.String(), tc.description)
		})
	}
}

func (s *FlowSuite) TestUnknownPolicy() {
	token := testutil.MintToken(s.T(), 5)
	body := s.consentBody(5)
	body["id_policy"] = 999

	resp := s.do(http.MethodPost, "/consents", token, body)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/consents/policy/999", token, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (s *FlowSuite) TestPublicAndOperationalRoutes() {
	resp := s.do(http.MethodGet, "/policies/latest", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/readyz", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	token := testutil.MintToken(s.T(), 3)
	created := s.do(http.MethodPost, "/consents", token, s.consentBody(3))
	s.Require().Equal(http.StatusCreated, created.StatusCode)
	created.Body.Close()

	resp = s.do(http.MethodGet, "/metrics", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	s.Require().NoError(err)
	s.Contains(string(raw), `consentvault_consents_recorded_total{status="given"} 1`)
	s.Contains(string(raw), "consentvault_subject_keys_created_total 1")
}
