package compiler

import (
	"fmt"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// validateAndOrderDAG validates that every depends_on target exists and
// that the stage graph is acyclic, returning stages in topological order.
// Grounded on config.PipelineConfig.validateDAG's Kahn's-algorithm
// adjacency-list + in-degree construction.
func validateAndOrderDAG(stages []domain.StageDef) ([]domain.StageDef, error) {
	byName := make(map[string]domain.StageDef, len(stages))
	for _, s := range stages {
		byName[s.Name] = s
	}

	adjacency := make(map[string][]string, len(stages))
	inDegree := make(map[string]int, len(stages))
	for _, s := range stages {
		adjacency[s.Name] = adjacency[s.Name]
		inDegree[s.Name] = 0
	}
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, &CompileError{Kind: ErrSchemaViolation, Stage: s.Name, Message: fmt.Sprintf("depends_on unknown stage %q", dep)}
			}
			adjacency[dep] = append(adjacency[dep], s.Name)
			inDegree[s.Name]++
		}
	}

	queue := make([]string, 0, len(stages))
	for _, s := range stages {
		if inDegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	order := make([]string, 0, len(stages))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		for _, dependent := range adjacency[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(stages) {
		var cyclic []string
		for name, degree := range inDegree {
			if degree > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return nil, &CompileError{Kind: ErrCycle, Message: fmt.Sprintf("dependency cycle among stages: %v", cyclic)}
	}

	ordered := make([]domain.StageDef, len(order))
	for i, name := range order {
		ordered[i] = byName[name]
	}
	return ordered, nil
}
