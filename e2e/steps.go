package e2e

import (
	"github.com/cucumber/godog"

	"consentvault/e2e/steps/auth"
	"consentvault/e2e/steps/common"
	"consentvault/e2e/steps/consent"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	auth.RegisterSteps(ctx, tc)
	consent.RegisterSteps(ctx, tc)
}
