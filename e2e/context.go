// Package e2e runs the Gherkin feature files against a running consentvault
// server. The server must share E2E_JWT_SECRET and E2E_ISSUER with the suite
// and have at least one published policy (see --seed-demo-policy).
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// TestContext holds per-scenario state: the current credential, the last
// response, and values remembered between steps.
type TestContext struct {
	BaseURL string
	Secret  string
	Issuer  string

	client   *http.Client
	subjects map[string]int64
	memory   map[string]any

	authHeader string
	status     int
	body       []byte
}

func NewTestContext(baseURL, secret, issuer string) *TestContext {
	return &TestContext{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		Issuer:  issuer,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset clears scenario state. Subject aliases get fresh random ids so runs
// against a long-lived server do not collide.
func (tc *TestContext) Reset() {
	tc.subjects = make(map[string]int64)
	tc.memory = make(map[string]any)
	tc.authHeader = ""
	tc.status = 0
	tc.body = nil
}

// SubjectID maps a scenario alias such as "alice" to a numeric subject id.
func (tc *TestContext) SubjectID(alias string) int64 {
	if id, ok := tc.subjects[alias]; ok {
		return id
	}
	id := rand.Int64N(1<<40) + 1
	tc.subjects[alias] = id
	return id
}

// SetAuthorization sets the raw Authorization header for later requests.
// Empty sends none.
func (tc *TestContext) SetAuthorization(header string) { tc.authHeader = header }

func (tc *TestContext) Remember(key string, v any) { tc.memory[key] = v }

func (tc *TestContext) Recall(key string) (any, error) {
	v, ok := tc.memory[key]
	if !ok {
		return nil, fmt.Errorf("nothing remembered as %q", key)
	}
	return v, nil
}

// Do sends a request with the current credential. body is JSON-encoded when
// not nil.
func (tc *TestContext) Do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.authHeader != "" {
		req.Header.Set("Authorization", tc.authHeader)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.status = resp.StatusCode
	tc.body, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) StatusCode() int { return tc.status }

func (tc *TestContext) Body() string { return string(tc.body) }

// ResponseField reads a dotted path such as "consent.subject_pseudonym" from
// a JSON object response.
func (tc *TestContext) ResponseField(path string) (any, error) {
	var cur any
	if err := json.Unmarshal(tc.body, &cur); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: not an object in %s", part, tc.body)
		}
		if cur, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %q missing in %s", part, tc.body)
		}
	}
	return cur, nil
}

// ResponseList decodes a JSON array response.
func (tc *TestContext) ResponseList() ([]map[string]any, error) {
	var out []map[string]any
	if err := json.Unmarshal(tc.body, &out); err != nil {
		return nil, fmt.Errorf("response is not a JSON array: %s", tc.body)
	}
	return out, nil
}

func (tc *TestContext) SigningSecret() string { return tc.Secret }

func (tc *TestContext) TokenIssuer() string { return tc.Issuer }
