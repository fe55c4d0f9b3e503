package domain

// PipelineDefinition is the user-authored, immutable-once-loaded document
// the Compiler reads. Field shapes follow EXTERNAL INTERFACES' pipeline
// document grammar.
type PipelineDefinition struct {
	Version        string
	Name           string
	Description    string
	TimeoutMinutes int
	Variables      map[string]string
	Triggers       []Trigger
	Stages         []StageDef
}

// TriggerKind enumerates the three trigger kinds the source declares.
type TriggerKind string

const (
	TriggerPush        TriggerKind = "push"
	TriggerPullRequest TriggerKind = "pull_request"
	TriggerSchedule    TriggerKind = "schedule"
)

// Trigger is one declared trigger predicate.
type Trigger struct {
	Kind         TriggerKind
	BranchGlobs  []string // push
	PathGlobs    []string // push
	Types        []string // pull_request: opened, synchronize, ...
	Cron         string   // schedule
}

// StageDef is one declared stage.
type StageDef struct {
	Name        string
	DependsOn   []string
	Condition   string
	Matrix      map[string][]string
	Environment EnvironmentDef
	Steps       []StepDef
}

// StepDef is one declared step. Exactly one of Run or Plugin is set.
type StepDef struct {
	Name             string
	Run              string
	Plugin           string // "<name>@<version>"
	With             map[string]string
	Env              map[string]string
	Shell            string
	WorkingDirectory string
	TimeoutMinutes   int
	ContinueOnError  bool
	Condition        string
	RequiredLabels   []string
	Artifacts        []ArtifactDef
	Cache            *CacheDef
}

// ArtifactDef declares a published artifact.
type ArtifactDef struct {
	Path          string
	RetentionDays int
}

// CacheDef declares the cache directive for a step.
type CacheDef struct {
	Key         string
	RestoreKeys []string
	Paths       []string
}

// EnvironmentKind enumerates the isolation backends a step may run under.
type EnvironmentKind string

const (
	EnvContainer    EnvironmentKind = "container"
	EnvNix          EnvironmentKind = "nix"
	EnvFirecracker  EnvironmentKind = "firecracker"
	EnvHost         EnvironmentKind = "host"
)

// EnvironmentDef is the discriminated union of environment configuration.
type EnvironmentDef struct {
	Type EnvironmentKind

	Container *ContainerEnv
	Nix       *NixEnv
	Firecracker *FirecrackerEnv
}

type ContainerEnv struct {
	Image    string
	Registry string
}

type NixEnv struct {
	Flake string
	Pure  bool
}

type FirecrackerEnv struct {
	Kernel    string
	Rootfs    string
	VCPUCount int
	MemoryMB  int
}

// TriggerContext carries the event that is being compiled against a
// PipelineDefinition: branch, commit, and caller-supplied variables.
type TriggerContext struct {
	Kind      TriggerKind
	Branch    string
	SHA       string
	Paths     []string // changed paths, for push path-glob matching
	PRType    string   // for pull_request triggers
	Variables map[string]string
	RunnerOS  string
}
