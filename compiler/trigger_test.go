package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-ci/pipeline-core/domain"
)

func TestMatchingTriggers_PushMatchesBranchGlob(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerPush, BranchGlobs: []string{"release/*"}}}
	ctx := domain.TriggerContext{Kind: domain.TriggerPush, Branch: "release/1.0"}

	assert.Len(t, matchingTriggers(triggers, ctx), 1)
}

func TestMatchingTriggers_PushBranchGlobMismatchExcludes(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerPush, BranchGlobs: []string{"release/*"}}}
	ctx := domain.TriggerContext{Kind: domain.TriggerPush, Branch: "main"}

	assert.Empty(t, matchingTriggers(triggers, ctx))
}

func TestMatchingTriggers_PushPathGlobMatchesAnyChangedPath(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerPush, PathGlobs: []string{"cmd/**/*.go"}}}
	ctx := domain.TriggerContext{Kind: domain.TriggerPush, Paths: []string{"README.md", "cmd/agentrun/main.go"}}

	assert.Len(t, matchingTriggers(triggers, ctx), 1)
}

func TestMatchingTriggers_PushPathGlobNoneMatchExcludes(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerPush, PathGlobs: []string{"docs/**"}}}
	ctx := domain.TriggerContext{Kind: domain.TriggerPush, Paths: []string{"runner/runner.go"}}

	assert.Empty(t, matchingTriggers(triggers, ctx))
}

func TestMatchingTriggers_PullRequestWithNoTypesAlwaysMatches(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerPullRequest}}
	ctx := domain.TriggerContext{Kind: domain.TriggerPullRequest, PRType: "opened"}

	assert.Len(t, matchingTriggers(triggers, ctx), 1)
}

func TestMatchingTriggers_PullRequestTypeMustBeListed(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerPullRequest, Types: []string{"opened", "synchronize"}}}

	matched := matchingTriggers(triggers, domain.TriggerContext{Kind: domain.TriggerPullRequest, PRType: "closed"})
	assert.Empty(t, matched)

	matched = matchingTriggers(triggers, domain.TriggerContext{Kind: domain.TriggerPullRequest, PRType: "synchronize"})
	assert.Len(t, matched, 1)
}

func TestMatchingTriggers_ScheduleValidatesCronSyntax(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerSchedule, Cron: "*/15 * * * *"}}
	ctx := domain.TriggerContext{Kind: domain.TriggerSchedule}

	assert.Len(t, matchingTriggers(triggers, ctx), 1)
}

func TestMatchingTriggers_ScheduleMalformedCronExcludes(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerSchedule, Cron: "not a cron expression"}}
	ctx := domain.TriggerContext{Kind: domain.TriggerSchedule}

	assert.Empty(t, matchingTriggers(triggers, ctx))
}

func TestMatchingTriggers_KindMismatchExcludes(t *testing.T) {
	triggers := []domain.Trigger{{Kind: domain.TriggerPush, BranchGlobs: []string{"*"}}}
	ctx := domain.TriggerContext{Kind: domain.TriggerPullRequest}

	assert.Empty(t, matchingTriggers(triggers, ctx))
}

func TestMatchingTriggers_UnionOfEffectsReturnsEveryMatchInOrder(t *testing.T) {
	triggers := []domain.Trigger{
		{Kind: domain.TriggerPush, BranchGlobs: []string{"main"}},
		{Kind: domain.TriggerPush, PathGlobs: []string{"**/*.go"}},
	}
	ctx := domain.TriggerContext{Kind: domain.TriggerPush, Branch: "main", Paths: []string{"domain/run.go"}}

	matched := matchingTriggers(triggers, ctx)
	assert.Len(t, matched, 2)
}
