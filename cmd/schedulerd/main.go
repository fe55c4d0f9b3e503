// schedulerd runs the Scheduler as a standalone process over an in-memory
// repository and its own in-process eventbus.Bus. It compiles nothing and
// exposes no way to submit a Plan from outside the process; only agents
// publishing on that same in-process bus can register with it.
//
// Usage:
//
//	go run ./cmd/schedulerd                  # defaults
//	go build -o schedulerd ./cmd/schedulerd && ./schedulerd
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeeves-ci/pipeline-core/config"
	"github.com/jeeves-ci/pipeline-core/eventbus"
	"github.com/jeeves-ci/pipeline-core/observability"
	"github.com/jeeves-ci/pipeline-core/persistence"
	"github.com/jeeves-ci/pipeline-core/ports"
	"github.com/jeeves-ci/pipeline-core/scheduler"
)

func main() {
	telemetry := flag.Bool("telemetry", true, "enable Prometheus/OTel instrumentation")
	otlpEndpoint := flag.String("otlp-endpoint", "localhost:4317", "OTLP collector address")
	flag.Parse()

	logger := &observability.StdLogger{Prefix: "schedulerd"}
	logger.Info("schedulerd_starting")

	cfg := config.Default()
	cfg.TelemetryEnabled = *telemetry

	if cfg.TelemetryEnabled {
		ctx := context.Background()
		shutdown, err := observability.InitTracer(ctx, "pipeline-core-schedulerd", *otlpEndpoint)
		if err != nil {
			logger.Warn("tracer_init_failed", "err", err)
		} else {
			defer shutdown(ctx)
		}
	}

	bus := eventbus.New(eventbus.NoopLogger())
	repo := persistence.NewMemoryRepository()
	sched := scheduler.New(repo, bus, ports.SystemClock{}, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)

	if err := sched.Recover(ctx); err != nil {
		logger.Warn("recover_failed", "err", err)
	}

	logger.Info("schedulerd_ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	cancel()
	logger.Info("schedulerd_stopped")
}
