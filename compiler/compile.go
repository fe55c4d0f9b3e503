// Package compiler implements the Pipeline Compiler: it transforms a
// PipelineDefinition plus a TriggerContext into a frozen, validated Plan.
// Grounded on coreengine/config/pipeline.go's DAG validation, generalized
// from a fixed agent-pipeline shape to the full pipeline-document grammar.
package compiler

import (
	"time"

	"github.com/jeeves-ci/pipeline-core/compiler/expr"
	"github.com/jeeves-ci/pipeline-core/domain"
	"github.com/jeeves-ci/pipeline-core/observability"
)

// Compile produces a Plan for every matching trigger (union-of-effects,
// see DESIGN.md). Returns NotTriggered if none match. Collects every
// CompileError rather than stopping at the first (§4.1). knownPlugins
// names every plugin the eventual PluginHost can dispatch to; a step
// referencing any other name fails with ErrUnknownPlugin rather than
// surfacing only at run time.
func Compile(def *domain.PipelineDefinition, ctx domain.TriggerContext, knownPlugins []string) ([]*domain.Plan, error) {
	start := time.Now()
	plans, err := compile(def, ctx, knownPlugins)

	outcome := "success"
	switch err.(type) {
	case nil:
	case NotTriggered:
		outcome = "not_triggered"
	default:
		outcome = "error"
	}
	observability.RecordCompile(def.Name, outcome, time.Since(start).Seconds())

	return plans, err
}

func compile(def *domain.PipelineDefinition, ctx domain.TriggerContext, knownPlugins []string) ([]*domain.Plan, error) {
	agg := &AggregateError{}

	validateSchema(def, agg)
	if agg.HasErrors() {
		return nil, agg
	}

	matched := matchingTriggers(def.Triggers, ctx)
	if len(matched) == 0 {
		return nil, NotTriggered{}
	}

	orderedStages, err := validateAndOrderDAG(def.Stages)
	if err != nil {
		if ce, ok := err.(*CompileError); ok {
			agg.Errors = append(agg.Errors, ce)
			return nil, agg
		}
		return nil, err
	}

	plugins := make(map[string]bool, len(knownPlugins))
	for _, p := range knownPlugins {
		plugins[p] = true
	}

	var plans []*domain.Plan
	for _, trig := range matched {
		plan, planErrs := compileOne(def, orderedStages, ctx, trig, plugins)
		if len(planErrs) > 0 {
			agg.Errors = append(agg.Errors, planErrs...)
			continue
		}
		plans = append(plans, plan)
	}
	if agg.HasErrors() {
		return nil, agg
	}
	return plans, nil
}

func compileOne(def *domain.PipelineDefinition, orderedStages []domain.StageDef, ctx domain.TriggerContext, trig domain.Trigger, knownPlugins map[string]bool) (*domain.Plan, []*CompileError) {
	var errs []*CompileError
	plan := &domain.Plan{
		PipelineName: def.Name,
		Trigger:      ctx,
	}

	for _, stageDef := range orderedStages {
		combos, err := expandMatrix(stageDef.Matrix)
		if err != nil {
			if ce, ok := err.(*CompileError); ok {
				ce.Stage = stageDef.Name
				errs = append(errs, ce)
			}
			continue
		}

		planStage := domain.PlanStage{
			Name:      stageDef.Name,
			DependsOn: stageDef.DependsOn,
			Condition: stageDef.Condition,
		}

		seenStepNames := map[string]bool{}
		for _, stepDef := range stageDef.Steps {
			if stepDef.Run == "" && stepDef.Plugin == "" {
				errs = append(errs, &CompileError{Kind: ErrSchemaViolation, Stage: stageDef.Name, Step: stepDef.Name, Message: "step must declare exactly one of run or plugin"})
				continue
			}
			if stepDef.Run != "" && stepDef.Plugin != "" {
				errs = append(errs, &CompileError{Kind: ErrSchemaViolation, Stage: stageDef.Name, Step: stepDef.Name, Message: "step must declare exactly one of run or plugin, not both"})
				continue
			}

			for _, values := range combos {
				instanceName := matrixSuffixName(stepDef.Name, values)
				if seenStepNames[instanceName] {
					errs = append(errs, &CompileError{Kind: ErrDuplicateName, Stage: stageDef.Name, Step: instanceName, Message: "duplicate step name within stage"})
					continue
				}
				seenStepNames[instanceName] = true

				env := buildExprEnv(def, ctx, stepDef, values)
				planStep, stepErrs := compileStep(stageDef, stepDef, instanceName, values, env, knownPlugins)
				errs = append(errs, stepErrs...)
				if len(stepErrs) == 0 {
					planStage.Steps = append(planStage.Steps, *planStep)
				}
			}
		}

		plan.Stages = append(plan.Stages, planStage)
	}

	if len(errs) > 0 {
		return nil, errs
	}

	plan.ContentHash = contentHash(plan)
	return plan, nil
}

func compileStep(stageDef domain.StageDef, stepDef domain.StepDef, instanceName string, matrixValues map[string]string, env *expr.Env, knownPlugins map[string]bool) (*domain.PlanStep, []*CompileError) {
	var errs []*CompileError

	if stepDef.Plugin != "" && !knownPlugins[stepDef.Plugin] {
		errs = append(errs, &CompileError{Kind: ErrUnknownPlugin, Stage: stageDef.Name, Step: instanceName, Message: "plugin " + stepDef.Plugin + " is not registered with the runner's plugin host"})
		return nil, errs
	}

	run := ""
	if stepDef.Run != "" {
		res, rerr := interpolate(stepDef.Run, env)
		if rerr != nil {
			errs = append(errs, unboundOrSchema(rerr, stageDef.Name, instanceName))
			return nil, errs
		}
		run = res.Value
	}

	resolvedCondition := stepDef.Condition
	if resolvedCondition != "" {
		res, cerr := interpolate(resolvedCondition, env)
		if cerr != nil {
			errs = append(errs, unboundOrSchema(cerr, stageDef.Name, instanceName))
			return nil, errs
		}
		resolvedCondition = res.Value
	}

	resolvedEnv := map[string]string{}
	for k, v := range stepDef.Env {
		res, eerr := interpolate(v, env)
		if eerr != nil {
			errs = append(errs, unboundOrSchema(eerr, stageDef.Name, instanceName))
			return nil, errs
		}
		resolvedEnv[k] = res.Value
	}

	var cache *domain.ResolvedCache
	if stepDef.Cache != nil {
		cache = &domain.ResolvedCache{
			KeyTemplate:         stepDef.Cache.Key,
			RestoreKeyTemplates: stepDef.Cache.RestoreKeys,
			Paths:               stepDef.Cache.Paths,
		}
		// Validate the key template parses even though its hashFiles()
		// tokens are deliberately left deferred to step start.
		if _, kerr := interpolate(stepDef.Cache.Key, env); kerr != nil {
			errs = append(errs, unboundOrSchema(kerr, stageDef.Name, instanceName))
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return &domain.PlanStep{
		Name:             instanceName,
		BaseName:         stepDef.Name,
		MatrixValues:     matrixValues,
		Run:              run,
		Plugin:           stepDef.Plugin,
		With:             stepDef.With,
		Env:              resolvedEnv,
		Shell:            stepDef.Shell,
		WorkingDirectory: stepDef.WorkingDirectory,
		TimeoutMinutes:   stepDef.TimeoutMinutes,
		ContinueOnError:  stepDef.ContinueOnError,
		Condition:        resolvedCondition,
		Environment:      stageDef.Environment,
		RequiredLabels:   stepDef.RequiredLabels,
		Artifacts:        stepDef.Artifacts,
		Cache:            cache,
	}, nil
}

func unboundOrSchema(err error, stage, step string) *CompileError {
	if ue, ok := err.(*expr.UnboundIdentifierError); ok {
		return &CompileError{Kind: ErrUnboundIdentifier, Stage: stage, Step: step, Message: ue.Error()}
	}
	return &CompileError{Kind: ErrSchemaViolation, Stage: stage, Step: step, Message: err.Error()}
}

// buildExprEnv layers pipeline variables ⊕ trigger-context variables ⊕ the
// step's `with` inputs ⊕ matrix values, later layers winning (§4.1 step 3),
// then sets the fixed identifiers (branch, sha, runner.os). There is no
// stage-level layer: stage definitions carry no variables.
func buildExprEnv(def *domain.PipelineDefinition, ctx domain.TriggerContext, stepDef domain.StepDef, matrixValues map[string]string) *expr.Env {
	ids := map[string]string{}
	for k, v := range def.Variables {
		ids[k] = v
	}
	for k, v := range ctx.Variables {
		ids[k] = v
	}
	for k, v := range stepDef.With {
		ids[k] = v
	}
	for k, v := range matrixValues {
		ids[k] = v
	}
	ids["branch"] = ctx.Branch
	ids["sha"] = ctx.SHA
	ids["runner.os"] = ctx.RunnerOS
	return &expr.Env{Identifiers: ids}
}
