package domain

// Plan is the opaque, validated, frozen artifact the Compiler produces from
// a PipelineDefinition plus a TriggerContext. It is value-typed: owned by
// the Run that references it, immutable for the Run's lifetime.
type Plan struct {
	PipelineName string
	Trigger      TriggerContext
	Stages       []PlanStage // topologically ordered
	ContentHash  string
}

// PlanStage is a compiled stage: its steps already expanded from any
// declared matrix.
type PlanStage struct {
	Name      string
	DependsOn []string
	Condition string
	Steps     []PlanStep
}

// PlanStep is one compiled, schedulable unit. MatrixValues is non-nil only
// for steps produced by matrix expansion.
type PlanStep struct {
	Name             string // "<original>[k1=v1,k2=v2,...]" when expanded
	BaseName         string
	MatrixValues     map[string]string
	Run              string
	Plugin           string
	With             map[string]string
	Env              map[string]string
	Shell            string
	WorkingDirectory string
	TimeoutMinutes   int
	ContinueOnError  bool
	Condition        string
	Environment      EnvironmentDef
	RequiredLabels   []string
	Artifacts        []ArtifactDef
	Cache            *ResolvedCache
}

// ResolvedCache holds a cache directive whose keys may still contain a
// deferred hashFiles() token; the template is frozen here, the literal
// value is computed at step start (§4.1 step 7, §4.4 step 3).
type ResolvedCache struct {
	KeyTemplate         string
	RestoreKeyTemplates []string
	Paths               []string
}

// StageIndex returns the compiled stage with the given name, or -1 if
// absent.
func (p *Plan) StageIndex(name string) int {
	for i, s := range p.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}
