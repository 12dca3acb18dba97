// Package worker is the stateless task executor of §4.5: it registers
// itself with the engine, heartbeats on its own schedule, polls the queue
// in a tight loop with a small idle backoff, and for each claimed task
// starts a second, task-scoped heartbeat before dispatching the action to
// the sandbox (or, for Action::Delay, simply rescheduling it). Several
// claim loops run concurrently up to the worker's configured capacity,
// grounded on internal/marble/worker.go's Worker/WorkerGroup lifecycle
// shape adapted from a single ticker-driven function to a claim-and-
// dispatch loop with its own per-task heartbeat goroutine.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/domain/workflow"
	"github.com/degov/workflow-core/internal/engine"
	"github.com/degov/workflow-core/internal/sandbox"
	"github.com/degov/workflow-core/pkg/logger"
)

// DefaultIdleBackoff is the pause between claim attempts when the queue
// has nothing due.
const DefaultIdleBackoff = 250 * time.Millisecond

// Handler executes one Action::Task (kind "task") by its TaskType. The
// engine's Action comment calls this the plugin extension point: new
// domain work is added by registering a Handler, not by adding a new
// ActionKind. Payload is the action's own literal payload; instanceContext
// is a read-only snapshot of the instance's context document at dispatch
// time.
type Handler func(ctx context.Context, payload map[string]any, instanceContext map[string]any) (any, error)

// Config wires together one worker process.
type Config struct {
	// ID identifies this worker under workers/{worker_id}. A random UUID
	// is generated if left empty.
	ID       string
	Capacity int

	Engine    engine.WorkerFacing
	Evaluator sandbox.Evaluator

	// Handlers maps Action::Task's TaskType to the Go function that
	// performs it. A TaskType with no registered Handler fails the task
	// non-transiently.
	Handlers map[string]Handler

	// Notifier and Federator back the sandbox's notify.*/federated.*
	// host calls for Action::Script dispatch; both may be nil, in which
	// case a script that calls them fails with ScriptHostDenied.
	Notifier  sandbox.Notifier
	Federator sandbox.Federator

	// HTTPClient executes Action::HTTP. A client with DefaultActionTimeout
	// is constructed if left nil.
	HTTPClient *http.Client

	HeartbeatInterval time.Duration
	LeaseTTL          time.Duration
	IdleBackoff       time.Duration

	Logger *logger.Logger
}

// Worker is one stateless task-executor process (§4.5).
type Worker struct {
	id       string
	capacity int

	engine    engine.WorkerFacing
	evaluator sandbox.Evaluator
	handlers  map[string]Handler
	notifier  sandbox.Notifier
	federator sandbox.Federator
	http      *http.Client

	heartbeatInterval time.Duration
	leaseTTL          time.Duration
	idleBackoff       time.Duration

	log *logrus.Entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Worker from cfg, applying defaults for anything left
// zero.
func New(cfg Config) *Worker {
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 5 * time.Second
	}
	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= heartbeatInterval*3 {
		leaseTTL = heartbeatInterval * 3
	}
	idleBackoff := cfg.IdleBackoff
	if idleBackoff <= 0 {
		idleBackoff = DefaultIdleBackoff
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: sandbox.DefaultActionTimeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("worker")
	}

	return &Worker{
		id:                id,
		capacity:          capacity,
		engine:            cfg.Engine,
		evaluator:         cfg.Evaluator,
		handlers:          cfg.Handlers,
		notifier:          cfg.Notifier,
		federator:         cfg.Federator,
		http:              httpClient,
		heartbeatInterval: heartbeatInterval,
		leaseTTL:          leaseTTL,
		idleBackoff:       idleBackoff,
		log:               logger.WithWorker(log, id),
		stopCh:            make(chan struct{}),
	}
}

// ID returns the worker's registered ID.
func (w *Worker) ID() string { return w.id }

// Start registers the worker and launches its heartbeat scheduler plus one
// claim loop per unit of capacity. It returns once registration succeeds;
// the loops run in the background until Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.engine.RegisterWorker(ctx, w.id, w.capacity); err != nil {
		return fmt.Errorf("register worker %s: %w", w.id, err)
	}

	w.wg.Add(1)
	go w.runHeartbeat(ctx)

	for i := 0; i < w.capacity; i++ {
		w.wg.Add(1)
		go w.runClaimLoop(ctx)
	}
	return nil
}

// Stop signals every loop to exit and waits for them to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// runHeartbeat refreshes the worker's own registration every
// heartbeatInterval until stopped (§4.5: "heartbeats every
// heartbeat_interval").
func (w *Worker) runHeartbeat(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.engine.WorkerHeartbeat(ctx, w.id); err != nil {
				w.log.WithField("error", err.Error()).Warn("worker heartbeat failed")
			}
		}
	}
}

// runClaimLoop repeatedly claims and dispatches tasks, backing off briefly
// when the queue is empty.
func (w *Worker) runClaimLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		claimed, err := w.engine.Claim(ctx, w.id, w.leaseTTL)
		if err != nil {
			w.log.WithField("error", err.Error()).Error("claim failed")
			w.sleep(w.idleBackoff)
			continue
		}
		if claimed == nil {
			w.sleep(w.idleBackoff)
			continue
		}

		w.run(ctx, *claimed)
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.stopCh:
	}
}

// run starts the task-scoped heartbeat scheduler, dispatches the task's
// action, and reports the outcome (§4.5 steps 1-5). Action::Delay never
// reaches dispatch: it doesn't fit the Succeeded/Failed outcome space at
// all, so run reschedules it directly through the queue's own Reschedule
// primitive instead of calling complete or fail.
func (w *Worker) run(ctx context.Context, t task.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go w.runTaskHeartbeat(taskCtx, t, cancel, hbDone)
	defer func() { <-hbDone }()

	taskLog := logger.WithTask(logger.WithInstance(w.log, t.InstanceID), t.ID)

	if t.Action.Kind == workflow.ActionDelay {
		delay := time.Duration(t.Action.DelaySeconds) * time.Second
		if err := w.engine.Reschedule(ctx, t.ID, w.id, delay); err != nil {
			taskLog.WithField("error", err.Error()).Error("reschedule failed")
		}
		return
	}

	result, transient, err := w.dispatch(taskCtx, t)
	if err != nil {
		message, failTransient := classifyFailure(err)
		if transient {
			failTransient = true
		}
		if failErr := w.engine.Fail(ctx, t.ID, w.id, message, failTransient); failErr != nil {
			taskLog.WithField("error", failErr.Error()).Error("fail report failed")
		}
		return
	}
	if err := w.engine.Complete(ctx, t.ID, w.id, result); err != nil {
		taskLog.WithField("error", err.Error()).Error("complete report failed")
	}
}

// runTaskHeartbeat extends t's lease at an interval under a third of the
// lease TTL (§4.5 step 1) until dispatch finishes. A lost lease or a
// terminal instance cancels the dispatch context so the worker abandons
// work another owner has already reclaimed (§5, "Cancellation").
func (w *Worker) runTaskHeartbeat(ctx context.Context, t task.Task, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	interval := w.leaseTTL / 4
	if interval <= 0 {
		interval = w.heartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.engine.Heartbeat(ctx, t.ID, w.id, w.leaseTTL); err != nil {
				cancel()
				return
			}
			if t.InstanceID == "" {
				continue
			}
			inst, err := w.engine.GetInstance(ctx, t.InstanceID)
			if err == nil && inst.Status.Terminal() {
				cancel()
				return
			}
		}
	}
}
