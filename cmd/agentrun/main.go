// agentrun is a standalone agent process: it registers on its own
// in-process eventbus.Bus, accepts jobs dispatched on that bus up to its
// concurrency limit, and executes them on the host backend. The bus is not
// shared with any other process, so a Scheduler elsewhere does not see it.
//
// Usage:
//
//	go run ./cmd/agentrun -id agent-1 -labels linux,docker
//	go build -o agentrun ./cmd/agentrun && ./agentrun -id agent-1
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeeves-ci/pipeline-core/agentproto"
	"github.com/jeeves-ci/pipeline-core/config"
	"github.com/jeeves-ci/pipeline-core/domain"
	"github.com/jeeves-ci/pipeline-core/eventbus"
	"github.com/jeeves-ci/pipeline-core/observability"
	"github.com/jeeves-ci/pipeline-core/persistence"
	"github.com/jeeves-ci/pipeline-core/ports"
	"github.com/jeeves-ci/pipeline-core/runner"
)

func main() {
	id := flag.String("id", "", "agent id (required)")
	labelsFlag := flag.String("labels", "", "comma-separated agent labels")
	maxJobs := flag.Int("max-jobs", 1, "max concurrent jobs")
	workDir := flag.String("work-dir", "", "workspace base directory (defaults to the OS temp dir)")
	flag.Parse()

	if *id == "" {
		log.Fatal("agentrun: -id is required")
	}

	logger := &observability.StdLogger{Prefix: "agentrun." + *id}
	logger.Info("agentrun_starting", "id", *id)

	labels := map[string]bool{}
	if *labelsFlag != "" {
		for _, l := range strings.Split(*labelsFlag, ",") {
			labels[strings.TrimSpace(l)] = true
		}
	}

	cfg := config.Default()
	bus := eventbus.New(eventbus.NoopLogger())

	rnr := runner.NewRunner(
		persistence.EnvSecretResolver{},
		persistence.NewMemoryCache(),
		persistence.DiscardArtifactStore{Log: func(runID, stepID string, a domain.ArtifactDef) {
			logger.Info("artifact_published", "run_id", runID, "step", stepID, "path", a.Path)
		}},
		persistence.NoPluginHost{},
		bus,
		logger,
		*workDir,
		2000,
		nil,
	)

	desc := agentproto.Descriptor{
		ID:                *id,
		Labels:            labels,
		MaxConcurrentJobs: *maxJobs,
		Version:           "0.1.0",
	}
	client := agentproto.NewClient(desc, bus, ports.SystemClock{}, rnr, logger, cfg.HeartbeatInterval)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	logger.Info("agentrun_ready", "id", *id)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal_received", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("agent_run_failed", "err", err)
		}
	}

	logger.Info("agentrun_stopped", "id", *id)
}
