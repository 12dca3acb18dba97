// Package main is a thin, in-process harness for local engine operation:
// load workflow definitions from a directory, register them, create
// instances, and trigger events, all against a single in-memory KV store
// that exists for the life of the process. It is not an operator-facing
// CLI backed by a real cluster — there is no persistence across
// invocations and no remote engine to dial.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/degov/workflow-core/internal/dsl"
	"github.com/degov/workflow-core/internal/engine"
	"github.com/degov/workflow-core/internal/kv"
	"github.com/degov/workflow-core/internal/queue"
	"github.com/degov/workflow-core/internal/sandbox"
	"github.com/degov/workflow-core/pkg/config"
	"github.com/degov/workflow-core/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logger.NewDefault("enginectl").WithField("component", "enginectl")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.New()
	store := kv.NewMemStore()
	ks := kv.NewKeyspace(cfg.KV.RootPrefix)
	cache := kv.NewDefinitionCache(store, ks, cfg.KV.CacheSize, 0)
	q := queue.New(store, ks, queue.DefaultBackoffConfig())
	eng := engine.New(store, ks, cache, q, sandbox.NewGojaEvaluator())
	ctx := context.Background()

	switch os.Args[1] {
	case "register":
		registerWorkflows(ctx, eng, log, os.Args[2:])
	case "create-instance":
		createInstance(ctx, eng, log, os.Args[2:])
	case "trigger-event":
		triggerEvent(ctx, eng, log, os.Args[2:])
	case "list-dead-letter":
		listDeadLetter(ctx, eng, log, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: enginectl <register|create-instance|trigger-event|list-dead-letter> [flags]")
}

func registerWorkflows(ctx context.Context, eng *engine.Engine, log *logrus.Entry, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	root := fs.String("root", "definitions", "directory to discover Workflow/DataModel definitions from")
	_ = fs.Parse(args)

	discovered := dsl.Discover(*root)
	for _, err := range discovered.Errors {
		log.WithField("error", err.Error()).Warn("discover")
	}

	resolved, err := dsl.Resolve(discovered.Definitions)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("resolve")
	}

	for _, r := range resolved {
		if r.Workflow == nil {
			continue
		}
		def, err := r.Workflow.ToDefinition()
		if err != nil {
			log.WithField("id", r.ID.String()).WithField("error", err.Error()).Error("convert definition")
			continue
		}
		version, err := eng.RegisterWorkflow(ctx, def)
		if err != nil {
			logger.WithWorkflow(log, def.ID).WithField("error", err.Error()).Error("register workflow")
			continue
		}
		fmt.Printf("registered %s version %d\n", def.ID, version)
	}
}

func createInstance(ctx context.Context, eng *engine.Engine, log *logrus.Entry, args []string) {
	fs := flag.NewFlagSet("create-instance", flag.ExitOnError)
	workflowID := fs.String("workflow", "", "workflow NSID to instantiate")
	version := fs.Int("version", 0, "workflow version (0 = latest)")
	idempotencyKey := fs.String("idempotency-key", "", "optional idempotency key")
	contextJSON := fs.String("context", "{}", "initial context document, as JSON")
	_ = fs.Parse(args)

	var initialContext map[string]any
	if err := json.Unmarshal([]byte(*contextJSON), &initialContext); err != nil {
		log.WithField("error", err.Error()).Fatal("parse -context")
	}

	instanceID, err := eng.CreateInstance(ctx, *workflowID, *version, *idempotencyKey, initialContext)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("create instance")
	}
	fmt.Println(instanceID)
}

func triggerEvent(ctx context.Context, eng *engine.Engine, log *logrus.Entry, args []string) {
	fs := flag.NewFlagSet("trigger-event", flag.ExitOnError)
	instanceID := fs.String("instance", "", "instance ID")
	event := fs.String("event", "", "event name")
	payloadJSON := fs.String("payload", "{}", "event payload, as JSON")
	_ = fs.Parse(args)

	var payload map[string]any
	if err := json.Unmarshal([]byte(*payloadJSON), &payload); err != nil {
		log.WithField("error", err.Error()).Fatal("parse -payload")
	}

	if err := eng.TriggerEvent(ctx, *instanceID, *event, payload); err != nil {
		logger.WithInstance(log, *instanceID).WithField("error", err.Error()).Fatal("trigger event")
	}
}

func listDeadLetter(ctx context.Context, eng *engine.Engine, log *logrus.Entry, args []string) {
	fs := flag.NewFlagSet("list-dead-letter", flag.ExitOnError)
	limit := fs.Int("limit", 50, "max rows to list")
	_ = fs.Parse(args)

	tasks, err := eng.ListDeadLetterTasks(ctx, *limit)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("list dead letter")
	}
	for _, t := range tasks {
		fmt.Printf("%s\tinstance=%s\tretries=%d\n", t.ID, t.InstanceID, t.RetryCount)
	}
}
