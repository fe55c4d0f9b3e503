package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-ci/pipeline-core/domain"
)

func TestValidateSchema_DuplicateStageName(t *testing.T) {
	def := &domain.PipelineDefinition{
		Stages: []domain.StageDef{{Name: "build"}, {Name: "build"}},
	}
	agg := &AggregateError{}
	validateSchema(def, agg)

	require.True(t, agg.HasErrors())
	assert.Equal(t, ErrDuplicateName, agg.Errors[0].Kind)
}

func TestValidateSchema_DuplicateStepNameWithinStage(t *testing.T) {
	def := &domain.PipelineDefinition{
		Stages: []domain.StageDef{{
			Name: "build",
			Steps: []domain.StepDef{
				{Name: "compile", Run: "make"},
				{Name: "compile", Run: "make again"},
			},
		}},
	}
	agg := &AggregateError{}
	validateSchema(def, agg)

	require.True(t, agg.HasErrors())
	assert.Equal(t, ErrDuplicateName, agg.Errors[0].Kind)
}

func TestValidateSchema_StepMustDeclareRunOrPlugin(t *testing.T) {
	def := &domain.PipelineDefinition{
		Stages: []domain.StageDef{{
			Name:  "build",
			Steps: []domain.StepDef{{Name: "noop"}},
		}},
	}
	agg := &AggregateError{}
	validateSchema(def, agg)

	require.True(t, agg.HasErrors())
	assert.Equal(t, ErrSchemaViolation, agg.Errors[0].Kind)
}

func TestValidateSchema_StepCannotDeclareBothRunAndPlugin(t *testing.T) {
	def := &domain.PipelineDefinition{
		Stages: []domain.StageDef{{
			Name:  "build",
			Steps: []domain.StepDef{{Name: "ambiguous", Run: "make", Plugin: "checkout"}},
		}},
	}
	agg := &AggregateError{}
	validateSchema(def, agg)

	require.True(t, agg.HasErrors())
	assert.Equal(t, ErrSchemaViolation, agg.Errors[0].Kind)
}

func TestValidateSchema_CollectsMultipleErrorsWithoutStopping(t *testing.T) {
	def := &domain.PipelineDefinition{
		Stages: []domain.StageDef{
			{Name: ""},
			{Name: "build", Steps: []domain.StepDef{{Name: "noop"}}},
		},
	}
	agg := &AggregateError{}
	validateSchema(def, agg)

	assert.GreaterOrEqual(t, len(agg.Errors), 2, "every violation must be collected, not just the first")
}

func TestValidateSchema_ValidDefinitionHasNoErrors(t *testing.T) {
	def := &domain.PipelineDefinition{
		Stages: []domain.StageDef{{
			Name:  "build",
			Steps: []domain.StepDef{{Name: "compile", Run: "make"}},
		}},
	}
	agg := &AggregateError{}
	validateSchema(def, agg)

	assert.False(t, agg.HasErrors())
}
