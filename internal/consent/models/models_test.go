package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
)

func TestComputeValidationHash(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)
	got := ComputeValidationHash("abc", 1, at, "web", domain.ConsentStatusGiven)
	assert.Equal(t, "34b8f01f5402c125cdc6ed83e3433f5758cafe0fd8916af46bcebe6840c5341b", got)

	// Same instant in another zone hashes identically.
	other := ComputeValidationHash("abc", 1, at.In(time.FixedZone("X", 7200)), "web", domain.ConsentStatusGiven)
	assert.Equal(t, got, other)

	assert.NotEqual(t, got, ComputeValidationHash("abc", 1, at, "web", domain.ConsentStatusRefused))
	assert.NotEqual(t, got, ComputeValidationHash("abd", 1, at, "web", domain.ConsentStatusGiven))
	assert.NotEqual(t, got, ComputeValidationHash("abc", 2, at, "web", domain.ConsentStatusGiven))
}

func TestNewConsentRecord(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.FixedZone("CET", 3600))
	rec := NewConsentRecord("p", 3, "chatbot", domain.ConsentStatusRefused, at)

	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
	assert.Equal(t, 123456000, rec.CreatedAt.Nanosecond())
	assert.Len(t, rec.ValidationHash, 64)
	assert.True(t, rec.Verify())

	rec.Channel = "web"
	assert.False(t, rec.Verify())
}

func TestRecordConsentRequestValidate(t *testing.T) {
	decode := func(t *testing.T, body string) RecordConsentRequest {
		t.Helper()
		var req RecordConsentRequest
		require.NoError(t, json.Unmarshal([]byte(body), &req))
		return req
	}

	t.Run("valid", func(t *testing.T) {
		req := decode(t, `{"id_user":42,"id_policy":1,"channel":"  web ","status":"given"}`)
		cmd, err := req.Validate()
		require.NoError(t, err)
		assert.Equal(t, RecordCommand{Subject: 42, Policy: 1, Channel: "web", Status: domain.ConsentStatusGiven}, cmd)
	})

	invalid := map[string]string{
		"missing user":      `{"id_policy":1,"channel":"web","status":"given"}`,
		"missing policy":    `{"id_user":1,"channel":"web","status":"given"}`,
		"missing channel":   `{"id_user":1,"id_policy":1,"status":"given"}`,
		"missing status":    `{"id_user":1,"id_policy":1,"channel":"web"}`,
		"zero user":         `{"id_user":0,"id_policy":1,"channel":"web","status":"given"}`,
		"negative policy":   `{"id_user":1,"id_policy":-4,"channel":"web","status":"given"}`,
		"blank channel":     `{"id_user":1,"id_policy":1,"channel":"   ","status":"given"}`,
		"revoked on create": `{"id_user":1,"id_policy":1,"channel":"web","status":"revoked"}`,
		"unknown status":    `{"id_user":1,"id_policy":1,"channel":"web","status":"maybe"}`,
	}
	for name, body := range invalid {
		t.Run(name, func(t *testing.T) {
			req := decode(t, body)
			_, err := req.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestPolicyProjectionOmitsIntegrityFields(t *testing.T) {
	rec := NewConsentRecord("pseudo", 1, "web", domain.ConsentStatusGiven, time.Now())
	rec.ID = 9
	raw, err := json.Marshal(ToPolicyConsentList([]ConsentRecord{rec}))
	require.NoError(t, err)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(raw, &items))
	require.Len(t, items, 1)
	assert.ElementsMatch(t, []string{"id", "subject_pseudonym", "created_at", "channel"}, keys(items[0]))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
