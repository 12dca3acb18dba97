// Package main starts a worker process (§4.5): it registers against the
// engine's worker-facing surface and runs until SIGINT/SIGTERM, at which
// point it stops claiming new work and waits for whatever it already
// claimed to finish.
//
// This binary wires a worker directly against an in-process engine over
// kv.NewMemStore for local development (-dev mode, the only mode
// implemented here); a real deployment would instead dial a generated RPC
// client implementing engine.WorkerFacing against a shared KV cluster, a
// gateway layer this repository does not provide.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/degov/workflow-core/internal/engine"
	"github.com/degov/workflow-core/internal/kv"
	"github.com/degov/workflow-core/internal/queue"
	"github.com/degov/workflow-core/internal/sandbox"
	"github.com/degov/workflow-core/internal/worker"
	"github.com/degov/workflow-core/pkg/config"
	"github.com/degov/workflow-core/pkg/logger"
)

func main() {
	dev := flag.Bool("dev", false, "run against an in-process memory store instead of a real KV cluster")
	flag.Parse()

	if !*dev {
		logger.NewDefault("workerd").Error("non-dev mode requires a real KV cluster client and a generated engine.WorkerFacing RPC client; neither is wired in this repository, run with -dev")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("workerd").WithField("error", err.Error()).Fatal("load config")
	}
	log := logger.New(pkgLoggingConfig(cfg))
	entry := log.WithField("component", "workerd")

	store := kv.NewMemStore()
	ks := kv.NewKeyspace(cfg.KV.RootPrefix)
	cache := kv.NewDefinitionCache(store, ks, cfg.KV.CacheSize, 0)
	q := queue.New(store, ks, queue.DefaultBackoffConfig())
	evaluator := sandbox.NewGojaEvaluator()
	eng := engine.New(store, ks, cache, q, evaluator)

	w := worker.New(worker.Config{
		Capacity:          cfg.Worker.PoolSize,
		Engine:            eng,
		Evaluator:         evaluator,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		LeaseTTL:          cfg.Worker.LeaseTTL,
		IdleBackoff:       cfg.Worker.IdleBackoff,
		Logger:            log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		entry.WithField("error", err.Error()).Fatal("start worker")
	}
	logger.WithWorker(entry, w.ID()).Info("workerd started in -dev mode against an in-process memory store")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	entry.Info("shutting down")
	w.Stop()
	cancel()
	entry.Info("worker stopped")
}

func pkgLoggingConfig(cfg *config.Config) logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}
}
