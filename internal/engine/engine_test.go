package engine

import (
	"testing"
	"time"

	"github.com/degov/workflow-core/domain/workflow"
	"github.com/degov/workflow-core/internal/kv"
	"github.com/degov/workflow-core/internal/queue"
	"github.com/degov/workflow-core/internal/sandbox"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := kv.NewMemStore()
	ks := kv.NewKeyspace("test")
	backoff := queue.BackoffConfig{Base: time.Nanosecond, Multiplier: 1, MaxDelay: time.Nanosecond}
	q := queue.New(store, ks, backoff)
	return New(store, ks, nil, q, sandbox.NewGojaEvaluator())
}

// approvalWorkflow is a three-state workflow with a guarded transition and
// an on_enter/on_exit/timeout on every non-terminal state, used across the
// engine package's tests.
func approvalWorkflow() workflow.Definition {
	onEnter := &workflow.Action{Kind: workflow.ActionTask, TaskType: "notify"}
	onExit := &workflow.Action{Kind: workflow.ActionTask, TaskType: "cleanup"}
	return workflow.Definition{
		ID:           "test.example/approval#workflow",
		InitialState: "submitted",
		States: map[string]workflow.StateDefinition{
			"submitted": {Name: "submitted", OnEnter: onEnter, OnExit: onExit, TimeoutSeconds: 3600},
			"approved":  {Name: "approved", IsTerminal: true},
			"rejected":  {Name: "rejected", IsTerminal: true},
		},
		Transitions: []workflow.Transition{
			{ID: "t-approve", From: "submitted", To: "approved", Event: "decide", Guard: "ctx.amount < 1000"},
			{ID: "t-reject", From: "submitted", To: "rejected", Event: "decide"},
		},
	}
}
