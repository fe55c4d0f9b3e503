package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-ci/pipeline-core/domain"
)

func TestValidateAndOrderDAG_OrdersByDependency(t *testing.T) {
	stages := []domain.StageDef{
		{Name: "deploy", DependsOn: []string{"test"}},
		{Name: "build"},
		{Name: "test", DependsOn: []string{"build"}},
	}

	ordered, err := validateAndOrderDAG(stages)
	require.NoError(t, err)
	require.Len(t, ordered, 3)

	index := map[string]int{}
	for i, s := range ordered {
		index[s.Name] = i
	}
	assert.Less(t, index["build"], index["test"])
	assert.Less(t, index["test"], index["deploy"])
}

func TestValidateAndOrderDAG_UnknownDependencyIsSchemaViolation(t *testing.T) {
	stages := []domain.StageDef{
		{Name: "build", DependsOn: []string{"nonexistent"}},
	}

	_, err := validateAndOrderDAG(stages)
	require.Error(t, err)

	ce, ok := err.(*CompileError)
	require.True(t, ok, "must return *CompileError, not a bare error, so it folds into the aggregate report")
	assert.Equal(t, ErrSchemaViolation, ce.Kind)
}

func TestValidateAndOrderDAG_DetectsCycle(t *testing.T) {
	stages := []domain.StageDef{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}

	_, err := validateAndOrderDAG(stages)
	require.Error(t, err)

	ce, ok := err.(*CompileError)
	require.True(t, ok)
	assert.Equal(t, ErrCycle, ce.Kind)
}

func TestValidateAndOrderDAG_IndependentStagesAnyOrder(t *testing.T) {
	stages := []domain.StageDef{
		{Name: "lint"},
		{Name: "build"},
	}

	ordered, err := validateAndOrderDAG(stages)
	require.NoError(t, err)
	assert.Len(t, ordered, 2)
}
