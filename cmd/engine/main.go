// cmd/engine is the job execution engine's process entrypoint: it wires
// configuration, a state-store backend, the three executor backends, the
// optional submission HTTP surface, and OpenTelemetry observability around
// *engine.Engine, then runs until a shutdown signal arrives. It re-execs
// itself as an isolated-worker subprocess when launched with
// -isolated-worker, the process backend's Spawn target.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	apihttp "github.com/rezkam/jobengine/internal/api/http"
	"github.com/rezkam/jobengine/internal/config"
	"github.com/rezkam/jobengine/internal/core"
	"github.com/rezkam/jobengine/internal/engine"
	"github.com/rezkam/jobengine/internal/executor"
	"github.com/rezkam/jobengine/internal/executor/asyncrunner"
	"github.com/rezkam/jobengine/internal/executor/processpool"
	"github.com/rezkam/jobengine/internal/executor/threadpool"
	"github.com/rezkam/jobengine/internal/metrics"
	"github.com/rezkam/jobengine/internal/observability"
	"github.com/rezkam/jobengine/internal/pipeline"
	"github.com/rezkam/jobengine/internal/scheduler"
	"github.com/rezkam/jobengine/internal/shutdown"
	sqlstorage "github.com/rezkam/jobengine/internal/storage/sql"
	"github.com/rezkam/jobengine/internal/storage/fs"
)

const isolatedWorkerFlag = "-isolated-worker"

func main() {
	if len(os.Args) > 1 && os.Args[1] == isolatedWorkerFlag {
		runIsolatedWorker()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, logger, err := observability.InitLogger(ctx, observability.Config{
		Enabled:     cfg.Observability.Enabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	slog.SetDefault(logger)

	if _, err := observability.InitTracerProvider(ctx, observability.Config{Enabled: cfg.Observability.Enabled, ServiceName: cfg.Observability.ServiceName}); err != nil {
		log.Fatalf("initializing tracer provider: %v", err)
	}
	if _, err := observability.InitMeterProvider(ctx, observability.Config{Enabled: cfg.Observability.Enabled, ServiceName: cfg.Observability.ServiceName}); err != nil {
		log.Fatalf("initializing meter provider: %v", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("opening state store: %v", err)
	}

	reg := pipeline.NewRegistry()
	registerBuiltinPipelines(reg)

	sd := shutdown.New()
	sd.Register(store.Close)

	thread := threadpool.New(cfg.ThreadPoolSize, cfg.ThreadPoolQueueDepth)

	process, err := processpool.New(ctx, cfg.ProcessPoolSize, isolatedWorkerSpawn)
	if err != nil {
		log.Fatalf("starting isolated worker pool: %v", err)
	}

	async := asyncrunner.New(cfg.AsyncQueueDepth)

	router := executor.NewRouter(thread, process, async)
	sched := scheduler.New(scheduler.WithAging(cfg.AgingInterval, cfg.AgingBoost))
	m := metrics.New()

	eng := engine.New(store, sched, router, reg, m, sd, engine.Config{
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:    ":8080",
		Handler: apihttp.NewHandler(eng, m, apihttp.Config{}),
	}
	sd.Register(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	go func() {
		logger.Info("submission API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("submission API stopped unexpectedly", slog.Any("error", err))
		}
	}()

	go eng.Run(ctx)

	logger.Info("engine started",
		slog.String("storage_backend", cfg.StorageBackend),
		slog.Int("thread_pool_size", cfg.ThreadPoolSize),
		slog.Int("process_pool_size", cfg.ProcessPoolSize))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	if err := eng.Shutdown(); err != nil {
		logger.Error("shutdown completed with errors", slog.Any("error", err))
	}
}

// openStore selects the state-store backend named by cfg.StorageBackend.
func openStore(ctx context.Context, cfg *config.EngineConfig) (core.StateStore, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendFS:
		return fs.NewStore(cfg.FSDir)
	case config.StorageBackendPostgres:
		return sqlstorage.NewPostgresStore(ctx, cfg.DatabaseDSN)
	case config.StorageBackendSQLite:
		return sqlstorage.NewSQLiteStore(ctx, cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// registerBuiltinPipelines registers the pipeline types this binary ships
// with out of the box. A host embedding internal/engine directly registers
// its own pipelines instead; this binary exists so the engine is runnable
// standalone.
func registerBuiltinPipelines(reg *pipeline.Registry) {
	reg.Register("echo", func() core.Pipeline {
		return pipeline.New(func(in pipeline.Seq) pipeline.Seq { return in })
	})
}

// isolatedWorkerSpawn launches this same binary re-exec'd with
// -isolated-worker, the process backend's subprocess target.
func isolatedWorkerSpawn() (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.Command(os.Args[0], isolatedWorkerFlag)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening isolated worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening isolated worker stdout: %w", err)
	}
	return cmd, stdin, stdout, nil
}

// runIsolatedWorker is the subprocess-side entrypoint invoked when this
// binary is launched with -isolated-worker by the process backend's Spawn
// function: it decodes one pipeline request at a time from stdin, runs it
// against the same pipeline registry the parent process uses, and encodes
// one response to stdout.
func runIsolatedWorker() {
	reg := pipeline.NewRegistry()
	registerBuiltinPipelines(reg)
	if err := processpool.RunSubprocessWorker(os.Stdin, os.Stdout, reg); err != nil {
		log.Fatalf("isolated worker exited with error: %v", err)
	}
}
