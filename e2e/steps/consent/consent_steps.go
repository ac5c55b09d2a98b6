package consent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(ctx context.Context, method, path string, body any) error
	SubjectID(alias string) int64
	ResponseField(path string) (any, error)
	ResponseList() ([]map[string]any, error)
	Remember(key string, v any)
	Recall(key string) (any, error)
}

// RegisterSteps registers consent, policy, and forget step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &consentSteps{tc: tc}

	ctx.Step(`^a published policy$`, steps.publishedPolicy)
	ctx.Step(`^I record consent for "([^"]*)" with channel "([^"]*)" and status "([^"]*)"$`, steps.recordConsent)
	ctx.Step(`^I record consent for "([^"]*)" against policy (\d+)$`, steps.recordConsentForPolicy)
	ctx.Step(`^I list the consents of "([^"]*)"$`, steps.listConsentsOf)
	ctx.Step(`^I list the consents for the policy$`, steps.listConsentsForPolicy)
	ctx.Step(`^I forget "([^"]*)"$`, steps.forget)
	ctx.Step(`^I remember the pseudonym$`, steps.rememberPseudonym)

	ctx.Step(`^the list should contain (\d+) records?$`, steps.listShouldContain)
	ctx.Step(`^the list should contain the remembered pseudonym$`, steps.listShouldContainPseudonym)
	ctx.Step(`^every record should pass its integrity check$`, steps.everyRecordIntact)
}

type consentSteps struct {
	tc TestContext
}

func (s *consentSteps) policyID() (int64, error) {
	v, err := s.tc.Recall("policy_id")
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (s *consentSteps) publishedPolicy(ctx context.Context) error {
	if err := s.tc.Do(ctx, http.MethodGet, "/policies/latest", nil); err != nil {
		return err
	}
	id, err := s.tc.ResponseField("id")
	if err != nil {
		return fmt.Errorf("no published policy; start the server with --seed-demo-policy: %w", err)
	}
	s.tc.Remember("policy_id", int64(id.(float64)))
	return nil
}

func (s *consentSteps) recordConsent(ctx context.Context, alias, channel, status string) error {
	policyID, err := s.policyID()
	if err != nil {
		return err
	}
	return s.tc.Do(ctx, http.MethodPost, "/consents", map[string]any{
		"id_user":   s.tc.SubjectID(alias),
		"id_policy": policyID,
		"channel":   channel,
		"status":    status,
	})
}

func (s *consentSteps) recordConsentForPolicy(ctx context.Context, alias string, policyID int64) error {
	return s.tc.Do(ctx, http.MethodPost, "/consents", map[string]any{
		"id_user":   s.tc.SubjectID(alias),
		"id_policy": policyID,
		"channel":   "web",
		"status":    "given",
	})
}

func (s *consentSteps) listConsentsOf(ctx context.Context, alias string) error {
	return s.tc.Do(ctx, http.MethodGet, fmt.Sprintf("/consents/user/%d", s.tc.SubjectID(alias)), nil)
}

func (s *consentSteps) listConsentsForPolicy(ctx context.Context) error {
	policyID, err := s.policyID()
	if err != nil {
		return err
	}
	return s.tc.Do(ctx, http.MethodGet, fmt.Sprintf("/consents/policy/%d", policyID), nil)
}

func (s *consentSteps) forget(ctx context.Context, alias string) error {
	return s.tc.Do(ctx, http.MethodDelete, fmt.Sprintf("/users/%d/forget", s.tc.SubjectID(alias)), nil)
}

func (s *consentSteps) rememberPseudonym(context.Context) error {
	p, err := s.tc.ResponseField("consent.subject_pseudonym")
	if err != nil {
		return err
	}
	s.tc.Remember("pseudonym", p)
	return nil
}

func (s *consentSteps) listShouldContain(_ context.Context, n int) error {
	list, err := s.tc.ResponseList()
	if err != nil {
		return err
	}
	if len(list) != n {
		return fmt.Errorf("expected %d records, got %d", n, len(list))
	}
	return nil
}

func (s *consentSteps) listShouldContainPseudonym(context.Context) error {
	want, err := s.tc.Recall("pseudonym")
	if err != nil {
		return err
	}
	list, err := s.tc.ResponseList()
	if err != nil {
		return err
	}
	for _, rec := range list {
		if rec["subject_pseudonym"] == want {
			return nil
		}
	}
	return fmt.Errorf("pseudonym %v not among %d records", want, len(list))
}

func (s *consentSteps) everyRecordIntact(context.Context) error {
	list, err := s.tc.ResponseList()
	if err != nil {
		return err
	}
	for _, rec := range list {
		if rec["integrity_ok"] != true {
			return fmt.Errorf("record %v failed its integrity check", rec["id"])
		}
	}
	return nil
}
