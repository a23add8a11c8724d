package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wirebird/wirebird/internal"
	"github.com/wirebird/wirebird/internal/agent"
	"github.com/wirebird/wirebird/internal/concurrency"
	"github.com/wirebird/wirebird/internal/config"
	"github.com/wirebird/wirebird/internal/dispatch"
	"github.com/wirebird/wirebird/internal/engine"
	"github.com/wirebird/wirebird/internal/executor"
	"github.com/wirebird/wirebird/internal/gateway"
	"github.com/wirebird/wirebird/internal/nodes"
	"github.com/wirebird/wirebird/internal/trigger"
	"github.com/wirebird/wirebird/internal/workflow"
	"github.com/wirebird/wirebird/pkg/clog"
	"github.com/wirebird/wirebird/pkg/storage"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(clog.NewAttributesHandler(handler))
	slog.SetDefault(logger)

	// Setup storage for the registry documents
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocal(env.StorageEnv.DataDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup registries
	agentRegistry, err := agent.NewRegistry(ctx, store)
	if err != nil {
		slog.Error("failed to load agent registry", "error", err)
		os.Exit(1)
	}
	groupRegistry, err := concurrency.NewGroupRegistry(ctx, store)
	if err != nil {
		slog.Error("failed to load concurrency groups", "error", err)
		os.Exit(1)
	}
	tracker := concurrency.NewTracker(groupRegistry)

	// Setup node types and executor
	types := workflow.NewTypeRegistry()
	nodes.RegisterBuiltins(types)
	exec := executor.New(types, nil, nil)

	// Setup dispatch queue and agent gateway
	queue := dispatch.NewQueue(agentRegistry, tracker, logger)
	hub := gateway.NewHub(agentRegistry, queue, logger)
	queue.SetNotifier(hub)
	gatewayHandler := gateway.NewHandler(hub, agentRegistry, queue, env.AgentVersion, logger)

	// Setup execution engine
	eng, err := engine.New(
		env.StorageEnv.DataDir,
		queue,
		exec,
		types,
		env.EngineEnv.Workers,
		time.Duration(env.EngineEnv.PollInterval)*time.Second,
		logger,
	)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Setup trigger scheduler
	enabledStore, err := trigger.NewEnabledStore(ctx, store)
	if err != nil {
		slog.Error("failed to load enabled workflows", "error", err)
		os.Exit(1)
	}
	scheduler := trigger.NewScheduler(eng, types, enabledStore, env.StorageEnv.WorkflowsDir, logger)

	srv := internal.NewServer(env, gatewayHandler)

	eng.Start(ctx)
	scheduler.Start(ctx)
	go func() {
		if err := scheduler.Watch(ctx); err != nil {
			slog.Error("workflow watcher error", "error", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	scheduler.Stop()
	eng.Stop()

	// Give active connections time to finish after their base context
	// is cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
