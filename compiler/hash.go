package compiler

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// contentHash computes a stable hash over the normalized plan (§4.1 step 8,
// §8 determinism-of-compilation property). Deterministic iteration order
// is the whole point: a canonical textual encoding is built by hand rather
// than relying on map/struct encoding order.
func contentHash(plan *domain.Plan) string {
	h := xxhash.New()
	fmt.Fprintf(h, "pipeline=%s\n", plan.PipelineName)
	for _, stage := range plan.Stages {
		fmt.Fprintf(h, "stage=%s deps=%v condition=%s\n", stage.Name, stage.DependsOn, stage.Condition)
		for _, step := range stage.Steps {
			fmt.Fprintf(h, "  step=%s run=%q plugin=%q shell=%q workdir=%q timeout=%d continue=%t condition=%q labels=%v\n",
				step.Name, step.Run, step.Plugin, step.Shell, step.WorkingDirectory,
				step.TimeoutMinutes, step.ContinueOnError, step.Condition, step.RequiredLabels)
			writeSortedMap(h, "env", step.Env)
			writeSortedMap(h, "with", step.With)
			if step.Cache != nil {
				fmt.Fprintf(h, "  cache key=%q restore=%v paths=%v\n", step.Cache.KeyTemplate, step.Cache.RestoreKeyTemplates, step.Cache.Paths)
			}
		}
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func writeSortedMap(h *xxhash.Digest, label string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(h, "  %s:", label)
	for _, k := range keys {
		fmt.Fprintf(h, " %s=%q", k, m[k])
	}
	h.Write([]byte{'\n'})
}
