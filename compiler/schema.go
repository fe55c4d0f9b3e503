package compiler

import "github.com/jeeves-ci/pipeline-core/domain"

// validateSchema enforces §4.1 step 1: every stage has a non-empty name
// unique within the pipeline; every step within a stage has a name unique
// within that stage; each step has exactly one of run or plugin.
func validateSchema(def *domain.PipelineDefinition, agg *AggregateError) {
	seenStages := map[string]bool{}
	for _, stage := range def.Stages {
		if stage.Name == "" {
			agg.add(ErrSchemaViolation, "", "", "stage name must not be empty")
			continue
		}
		if seenStages[stage.Name] {
			agg.add(ErrDuplicateName, stage.Name, "", "duplicate stage name")
			continue
		}
		seenStages[stage.Name] = true

		seenSteps := map[string]bool{}
		for _, step := range stage.Steps {
			if step.Name == "" {
				agg.add(ErrSchemaViolation, stage.Name, "", "step name must not be empty")
				continue
			}
			if seenSteps[step.Name] {
				agg.add(ErrDuplicateName, stage.Name, step.Name, "duplicate step name within stage")
				continue
			}
			seenSteps[step.Name] = true

			if step.Run == "" && step.Plugin == "" {
				agg.add(ErrSchemaViolation, stage.Name, step.Name, "step must declare exactly one of run or plugin")
			}
			if step.Run != "" && step.Plugin != "" {
				agg.add(ErrSchemaViolation, stage.Name, step.Name, "step must declare exactly one of run or plugin, not both")
			}
		}
	}
}
