package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeeves-ci/pipeline-core/agentproto"
	"github.com/jeeves-ci/pipeline-core/domain"
	"github.com/jeeves-ci/pipeline-core/observability"
	"github.com/jeeves-ci/pipeline-core/ports"
)

var secretTokenRe = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z0-9_.\-/]+)\s*\}\}`)

// Runner is the agent-side executor: it composes an environment Backend
// with the cache, secret, plugin, and artifact ports to carry out the
// fixed step-execution sequence of §4.4 (acquire env, resolve secrets,
// restore cache, run, save cache, publish artifacts, cleanup on every
// exit path). It implements agentproto.Executor, keeping the protocol
// layer ignorant of how a step is actually carried out, the way
// coreengine/agents.Agent depends on a ToolExecutor rather than a
// concrete tool implementation.
type Runner struct {
	secrets   ports.SecretResolver
	cache     ports.Cache
	artifacts ports.ArtifactStore
	plugins   ports.PluginHost
	bus       ports.EventBus
	log       observability.Logger

	baseDir string
	logCap  int
	onLine  func(Line)
}

// NewRunner constructs a Runner. onLine, if non-nil, is invoked for every
// captured output line as it is appended (live log streaming); it may be
// nil when only the final buffer snapshot matters. bus may be nil, in
// which case cache.hit/miss/saved events are simply not published (the
// Runner still logs and records the Prometheus counter either way).
func NewRunner(secrets ports.SecretResolver, cache ports.Cache, artifacts ports.ArtifactStore, plugins ports.PluginHost, bus ports.EventBus, log observability.Logger, baseDir string, logCap int, onLine func(Line)) *Runner {
	if log == nil {
		log = observability.NoopLogger{}
	}
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Runner{
		secrets: secrets, cache: cache, artifacts: artifacts, plugins: plugins, bus: bus,
		log: log, baseDir: baseDir, logCap: logCap, onLine: onLine,
	}
}

var _ agentproto.Executor = (*Runner)(nil)

// Execute runs one job to completion. Every exit path — success, command
// failure, or an error in any phase — releases the backend before
// returning (§4.4 step 8).
func (r *Runner) Execute(ctx context.Context, job agentproto.Job) (domain.StageStatus, *int, int, error) {
	start := time.Now()
	status, exitCode, truncated, err := r.execute(ctx, job)

	errorKind := "none"
	var runErr *RunError
	if errors.As(err, &runErr) {
		errorKind = string(runErr.Kind)
	} else if err != nil {
		errorKind = "unknown"
	}
	observability.RecordStepExecution(string(status), errorKind, time.Since(start).Seconds(), string(job.Step.Environment.Type))

	return status, exitCode, truncated, err
}

func (r *Runner) execute(ctx context.Context, job agentproto.Job) (domain.StageStatus, *int, int, error) {
	ctx, span := observability.StartSpan(ctx, "runner.execute_step")
	defer span.End()

	step := job.Step
	backend := SelectBackend(step.Environment.Type)
	workDir := filepath.Join(r.baseDir, job.RunID, job.StageName, job.StepName)

	if err := backend.Prepare(ctx, step.Environment, workDir); err != nil {
		return domain.StageFailure, nil, 0, err
	}
	defer func() {
		if err := backend.Cleanup(context.Background()); err != nil {
			r.log.Warn("backend_cleanup_error", "run_id", job.RunID, "step", job.StepName, "err", err)
		}
	}()

	// Every env var and the command body may carry its own secret
	// reference; resolving them is pure I/O against the secret store, so
	// it fans out the way dag_executor fans out independent node work.
	var mu sync.Mutex
	var secretValues []string
	var err error
	resolvedEnv := make(map[string]string, len(step.Env))
	g, gctx := errgroup.WithContext(ctx)
	for k, v := range step.Env {
		k, v := k, v
		g.Go(func() error {
			resolved, vals, err := r.resolveSecrets(gctx, v)
			if err != nil {
				return err
			}
			mu.Lock()
			resolvedEnv[k] = resolved
			secretValues = append(secretValues, vals...)
			mu.Unlock()
			return nil
		})
	}
	var command string
	g.Go(func() error {
		resolved, vals, err := r.resolveSecrets(gctx, step.Run)
		if err != nil {
			return err
		}
		mu.Lock()
		command = resolved
		secretValues = append(secretValues, vals...)
		mu.Unlock()
		return nil
	})
	if err = g.Wait(); err != nil {
		return domain.StageFailure, nil, 0, err
	}

	buf := newLogBuffer(r.logCap, func(l Line) {
		if r.onLine != nil {
			r.onLine(l)
		}
		r.publishOutputLine(ctx, job, l)
	})

	if step.Cache != nil {
		r.restoreCache(ctx, job, step.Cache, workDir)
	}

	var result *ExecResult
	if step.Plugin != "" {
		if _, callErr := r.plugins.Call(ctx, step.Plugin, step.With); callErr != nil {
			return domain.StageFailure, nil, 0, wrapErr(domain.ErrPluginCrash, "plugin call failed", callErr)
		}
		result = &ExecResult{ExitCode: 0}
	} else {
		result, err = backend.Exec(ctx, ExecRequest{
			Shell: step.Shell, Command: command, Env: resolvedEnv, WorkingDirectory: step.WorkingDirectory,
		}, buf, secretValues)
		if err != nil {
			_, truncated := buf.snapshot()
			var runErr *RunError
			if errors.As(err, &runErr) && runErr.Kind == domain.ErrCancelled {
				return domain.StageCancelled, nil, truncated, runErr
			}
			return domain.StageFailure, nil, truncated, err
		}
	}

	if step.Cache != nil {
		r.saveCache(ctx, job, step.Cache, workDir)
	}
	if len(step.Artifacts) > 0 {
		pg, pctx := errgroup.WithContext(context.Background())
		for _, a := range step.Artifacts {
			a := a
			pg.Go(func() error {
				if pubErr := r.artifacts.Publish(pctx, job.RunID, job.StepName, a); pubErr != nil {
					r.log.Warn("artifact_publish_error", "run_id", job.RunID, "step", job.StepName, "path", a.Path, "err", pubErr)
				}
				return nil
			})
		}
		_ = pg.Wait()
	}

	exitCode := result.ExitCode
	status := domain.StageSuccess
	if exitCode != 0 {
		status = domain.StageFailure
	}
	if ctx.Err() == context.Canceled {
		status = domain.StageCancelled
	}
	_, truncated := buf.snapshot()
	return status, &exitCode, truncated, nil
}

// resolveSecrets replaces every ${{ secrets.NAME }} token left literal by
// the compiler (§4.1 step 3: secret references are never evaluated at
// compile time) with its resolved value, and returns the resolved values
// so the caller can mask them out of captured logs.
func (r *Runner) resolveSecrets(ctx context.Context, s string) (string, []string, error) {
	var values []string
	var resolveErr error
	out := secretTokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		if resolveErr != nil {
			return tok
		}
		m := secretTokenRe.FindStringSubmatch(tok)
		name := m[1]
		val, err := r.secrets.Resolve(ctx, domain.SecretRef{Provider: "default", Path: name})
		if err != nil {
			resolveErr = wrapErr(domain.ErrSecretResolve, "resolve secret "+name, err)
			return tok
		}
		values = append(values, val)
		return val
	})
	if resolveErr != nil {
		return "", nil, resolveErr
	}
	return out, values, nil
}

func (r *Runner) restoreCache(ctx context.Context, job agentproto.Job, c *domain.ResolvedCache, workDir string) {
	keys := make([]string, 0, 1+len(c.RestoreKeyTemplates))
	keys = append(keys, resolveCacheKey(c.KeyTemplate, workDir))
	for _, t := range c.RestoreKeyTemplates {
		keys = append(keys, resolveCacheKey(t, workDir))
	}
	hitKey, found, err := r.cache.Restore(ctx, keys)
	if err != nil {
		r.log.Warn("cache_restore_error", "run_id", job.RunID, "step", job.StepName, "err", err)
		return
	}
	observability.RecordCacheResult(found)
	if found {
		r.log.Info("cache_hit", "run_id", job.RunID, "step", job.StepName, "key", hitKey)
		r.publishCacheEvent(ctx, domain.EventCacheHit, job)
	} else {
		r.log.Info("cache_miss", "run_id", job.RunID, "step", job.StepName)
		r.publishCacheEvent(ctx, domain.EventCacheMiss, job)
	}
}

func (r *Runner) saveCache(ctx context.Context, job agentproto.Job, c *domain.ResolvedCache, workDir string) {
	key := resolveCacheKey(c.KeyTemplate, workDir)
	if err := r.cache.Save(ctx, key, c.Paths); err != nil {
		r.log.Warn("cache_save_error", "run_id", job.RunID, "step", job.StepName, "key", key, "err", err)
		return
	}
	r.publishCacheEvent(ctx, domain.EventCacheSaved, job)
}

// publishOutputLine streams one captured output line onto the bus as a
// step.output event (§4.4 step 5 live log streaming), independent of
// onLine's in-process hook. A nil bus makes this a no-op.
func (r *Runner) publishOutputLine(ctx context.Context, job agentproto.Job, l Line) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, domain.Event{
		Kind: domain.EventStepOutput, RunID: job.RunID, StageName: job.StageName, StepName: job.StepName,
		AgentID: job.AgentID, Timestamp: time.Now(),
		Payload: map[string]any{"stream": l.Stream, "no": l.No, "text": l.Text},
	}); err != nil {
		r.log.Warn("step_output_publish_error", "run_id", job.RunID, "step", job.StepName, "err", err)
	}
}

// publishCacheEvent reports a cache hit/miss/save to the bus so the
// Scheduler can fold it into the Run's ResourceUsage counters (§3
// supplemental cache hit/miss telemetry). A nil bus (e.g. a bare
// standalone agent with nothing listening) makes this a no-op.
func (r *Runner) publishCacheEvent(ctx context.Context, kind domain.EventKind, job agentproto.Job) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, domain.Event{
		Kind: kind, RunID: job.RunID, StageName: job.StageName, StepName: job.StepName,
		AgentID: job.AgentID, Timestamp: time.Now(),
	}); err != nil {
		r.log.Warn("cache_event_publish_error", "run_id", job.RunID, "step", job.StepName, "err", err)
	}
}
