package compiler

import (
	"github.com/bmatcuk/doublestar/v4"
	"github.com/robfig/cron/v3"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// matchingTriggers returns every declared trigger that matches ctx, in
// declaration order (union-of-effects precedence, see DESIGN.md Open
// Question decision).
func matchingTriggers(triggers []domain.Trigger, ctx domain.TriggerContext) []domain.Trigger {
	var matched []domain.Trigger
	for _, t := range triggers {
		if t.Kind != ctx.Kind {
			continue
		}
		if triggerMatches(t, ctx) {
			matched = append(matched, t)
		}
	}
	return matched
}

func triggerMatches(t domain.Trigger, ctx domain.TriggerContext) bool {
	switch t.Kind {
	case domain.TriggerPush:
		if len(t.BranchGlobs) > 0 && !matchesAnyGlob(t.BranchGlobs, ctx.Branch) {
			return false
		}
		if len(t.PathGlobs) > 0 && !anyPathMatches(t.PathGlobs, ctx.Paths) {
			return false
		}
		return true
	case domain.TriggerPullRequest:
		if len(t.Types) == 0 {
			return true
		}
		for _, typ := range t.Types {
			if typ == ctx.PRType {
				return true
			}
		}
		return false
	case domain.TriggerSchedule:
		// A schedule trigger matches a context carrying TriggerSchedule iff
		// the cron expression parses; the actual "is it time" decision is
		// an external scheduler concern (out of the core's scope) that
		// fires the trigger context in the first place. We still validate
		// the cron syntax here so a malformed schedule surfaces at compile
		// time rather than silently never firing.
		_, err := cron.ParseStandard(t.Cron)
		return err == nil
	default:
		return false
	}
}

func matchesAnyGlob(globs []string, value string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, value); ok {
			return true
		}
	}
	return false
}

func anyPathMatches(globs []string, paths []string) bool {
	for _, p := range paths {
		if matchesAnyGlob(globs, p) {
			return true
		}
	}
	return false
}
