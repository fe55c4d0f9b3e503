package compiler

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// rawDocument mirrors the pipeline document grammar in EXTERNAL
// INTERFACES, decoded with yaml.v3 the way bartekus-stagecraft and
// alexisbeaulieu97-Streamy decode their own pipeline-shaped YAML.
type rawDocument struct {
	Version        string              `yaml:"version"`
	Name           string              `yaml:"name"`
	Description    string              `yaml:"description"`
	TimeoutMinutes int                 `yaml:"timeout_minutes"`
	Variables      map[string]string   `yaml:"variables"`
	Triggers       []rawTrigger        `yaml:"triggers"`
	Stages         []rawStage          `yaml:"stages"`
}

type rawTrigger struct {
	Push        *rawPushTrigger `yaml:"push"`
	PullRequest *rawPRTrigger   `yaml:"pull_request"`
	Schedule    *rawSchedule    `yaml:"schedule"`
}

type rawPushTrigger struct {
	Branches []string `yaml:"branches"`
	Paths    []string `yaml:"paths"`
}

type rawPRTrigger struct {
	Types []string `yaml:"types"`
}

type rawSchedule struct {
	Cron string `yaml:"cron"`
}

type rawStage struct {
	Name        string              `yaml:"name"`
	DependsOn   []string            `yaml:"depends_on"`
	Condition   string              `yaml:"condition"`
	Matrix      map[string][]string `yaml:"matrix"`
	Environment rawEnvironment      `yaml:"environment"`
	Steps       []rawStep           `yaml:"steps"`
}

type rawEnvironment struct {
	Type        string              `yaml:"type"`
	Container   *rawContainerEnv    `yaml:"container"`
	Nix         *rawNixEnv          `yaml:"nix"`
	Firecracker *rawFirecrackerEnv  `yaml:"firecracker"`
}

type rawContainerEnv struct {
	Image    string `yaml:"image"`
	Registry string `yaml:"registry"`
}

type rawNixEnv struct {
	Flake string `yaml:"flake"`
	Pure  bool   `yaml:"pure"`
}

type rawFirecrackerEnv struct {
	Kernel    string `yaml:"kernel"`
	Rootfs    string `yaml:"rootfs"`
	VCPUCount int    `yaml:"vcpu_count"`
	MemoryMB  int    `yaml:"memory_mb"`
}

type rawStep struct {
	Name             string            `yaml:"name"`
	Run              string            `yaml:"run"`
	Plugin           string            `yaml:"plugin"`
	With             map[string]string `yaml:"with"`
	Env              map[string]string `yaml:"env"`
	Shell            string            `yaml:"shell"`
	WorkingDirectory string            `yaml:"working_directory"`
	TimeoutMinutes   int               `yaml:"timeout_minutes"`
	ContinueOnError  bool              `yaml:"continue_on_error"`
	Condition        string            `yaml:"condition"`
	RequiredLabels   []string          `yaml:"labels"`
	Artifacts        []rawArtifact     `yaml:"artifacts"`
	Cache            *rawCache         `yaml:"cache"`
}

type rawArtifact struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type rawCache struct {
	Key         string   `yaml:"key"`
	RestoreKeys []string `yaml:"restore_keys"`
	Paths       []string `yaml:"paths"`
}

// Parse decodes a pipeline document from YAML into a PipelineDefinition.
// Schema validation beyond well-formed YAML happens in Compile.
func Parse(data []byte) (*domain.PipelineDefinition, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse pipeline document: %w", err)
	}

	def := &domain.PipelineDefinition{
		Version:        raw.Version,
		Name:           raw.Name,
		Description:    raw.Description,
		TimeoutMinutes: raw.TimeoutMinutes,
		Variables:      raw.Variables,
	}
	if def.TimeoutMinutes == 0 {
		def.TimeoutMinutes = 60
	}

	for _, t := range raw.Triggers {
		switch {
		case t.Push != nil:
			def.Triggers = append(def.Triggers, domain.Trigger{
				Kind:        domain.TriggerPush,
				BranchGlobs: t.Push.Branches,
				PathGlobs:   t.Push.Paths,
			})
		case t.PullRequest != nil:
			def.Triggers = append(def.Triggers, domain.Trigger{
				Kind:  domain.TriggerPullRequest,
				Types: t.PullRequest.Types,
			})
		case t.Schedule != nil:
			def.Triggers = append(def.Triggers, domain.Trigger{
				Kind: domain.TriggerSchedule,
				Cron: t.Schedule.Cron,
			})
		}
	}

	for _, s := range raw.Stages {
		stage := domain.StageDef{
			Name:        s.Name,
			DependsOn:   s.DependsOn,
			Condition:   s.Condition,
			Matrix:      s.Matrix,
			Environment: parseEnvironment(s.Environment),
		}
		for _, st := range s.Steps {
			step := domain.StepDef{
				Name:             st.Name,
				Run:              st.Run,
				Plugin:           st.Plugin,
				With:             st.With,
				Env:              st.Env,
				Shell:            st.Shell,
				WorkingDirectory: st.WorkingDirectory,
				TimeoutMinutes:   st.TimeoutMinutes,
				ContinueOnError:  st.ContinueOnError,
				Condition:        st.Condition,
				RequiredLabels:   st.RequiredLabels,
			}
			for _, a := range st.Artifacts {
				step.Artifacts = append(step.Artifacts, domain.ArtifactDef{Path: a.Path, RetentionDays: a.RetentionDays})
			}
			if st.Cache != nil {
				step.Cache = &domain.CacheDef{Key: st.Cache.Key, RestoreKeys: st.Cache.RestoreKeys, Paths: st.Cache.Paths}
			}
			stage.Steps = append(stage.Steps, step)
		}
		def.Stages = append(def.Stages, stage)
	}

	return def, nil
}

func parseEnvironment(e rawEnvironment) domain.EnvironmentDef {
	env := domain.EnvironmentDef{Type: domain.EnvironmentKind(e.Type)}
	if env.Type == "" {
		env.Type = domain.EnvHost
	}
	if e.Container != nil {
		env.Container = &domain.ContainerEnv{Image: e.Container.Image, Registry: e.Container.Registry}
	}
	if e.Nix != nil {
		env.Nix = &domain.NixEnv{Flake: e.Nix.Flake, Pure: e.Nix.Pure}
	}
	if e.Firecracker != nil {
		env.Firecracker = &domain.FirecrackerEnv{
			Kernel:    e.Firecracker.Kernel,
			Rootfs:    e.Firecracker.Rootfs,
			VCPUCount: e.Firecracker.VCPUCount,
			MemoryMB:  e.Firecracker.MemoryMB,
		}
	}
	return env
}
