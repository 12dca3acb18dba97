package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/degov/workflow-core/domain/task"
	"github.com/degov/workflow-core/domain/workflow"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/sandbox"
)

// dispatch runs t's action to completion and reports what Complete/Fail
// should carry: Script and Task report a result value merged back into
// the instance's context by the engine; HTTP reports its decoded response
// body; Delay never reaches here (run intercepts it before dispatch).
// transient tells the caller to request the shorter retry backoff even
// though err wasn't itself a *kerrors.ScriptError.
func (w *Worker) dispatch(ctx context.Context, t task.Task) (result any, transient bool, err error) {
	switch t.Action.Kind {
	case workflow.ActionScript:
		return w.dispatchScript(ctx, t)
	case workflow.ActionTask:
		return w.dispatchTask(ctx, t)
	case workflow.ActionHTTP:
		return w.dispatchHTTP(ctx, t)
	default:
		return nil, false, fmt.Errorf("worker: unsupported action kind %q", t.Action.Kind)
	}
}

func (w *Worker) dispatchScript(ctx context.Context, t task.Task) (any, bool, error) {
	snapshot, err := w.contextSnapshot(ctx, t.InstanceID)
	if err != nil {
		return nil, true, err
	}

	host, err := newContextHost(snapshot)
	if err != nil {
		return nil, false, err
	}

	evalResult, err := w.evaluator.Evaluate(ctx, sandbox.EvalRequest{
		Code:       t.Action.Code,
		Language:   t.Action.Language,
		Context:    snapshot,
		InstanceID: t.InstanceID,
		Timeout:    sandbox.DefaultActionTimeout,
		Collaborators: sandbox.Collaborators{
			KV:        host,
			Notifier:  w.notifier,
			Federator: w.federator,
		},
	})
	if err != nil {
		return nil, false, err
	}

	// The script's return value (if any) is merged on top of the kv.set
	// side effects already folded into host.doc, so an action that both
	// calls kv.set and returns a value has the return value win on
	// overlapping fields.
	if evalResult.Value != nil {
		if err := host.mergeReturnValue(evalResult.Value); err != nil {
			return nil, false, err
		}
	}
	merged, err := host.snapshot()
	if err != nil {
		return nil, false, err
	}
	return merged, false, nil
}

// mergeReturnValue folds a script's return value into the host's document
// the same way the engine folds a task's reported result into stored
// context: an object return value is merged field by field, anything else
// replaces the document wholesale.
func (h *contextHost) mergeReturnValue(value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	doc, err := mergeJSONPatch(h.doc, raw)
	if err != nil {
		return err
	}
	h.doc = doc
	return nil
}

func (w *Worker) dispatchTask(ctx context.Context, t task.Task) (any, bool, error) {
	handler, ok := w.handlers[t.Action.TaskType]
	if !ok {
		return nil, false, fmt.Errorf("worker: no handler registered for task type %q", t.Action.TaskType)
	}

	snapshot, err := w.contextSnapshot(ctx, t.InstanceID)
	if err != nil {
		return nil, true, err
	}

	result, err := handler(ctx, t.Action.Payload, snapshot)
	return result, false, err
}

// dispatchHTTP runs Action::HTTP through the worker's own http.Client,
// bounded by the same wall-clock budget a script gets
// (sandbox.DefaultActionTimeout). The script host's federated.request call
// does not use this client; it goes through the Federator collaborator.
func (w *Worker) dispatchHTTP(ctx context.Context, t task.Task) (any, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, sandbox.DefaultActionTimeout)
	defer cancel()

	method := t.Action.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if t.Action.Body != "" {
		body = bytes.NewBufferString(t.Action.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, t.Action.URL, body)
	if err != nil {
		return nil, false, err
	}
	for k, v := range t.Action.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := w.http.Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, false, kerrors.NewScriptError(kerrors.ScriptTimeout, "http action exceeded its wall-clock budget")
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("worker: http action %s %s: status %d", method, t.Action.URL, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("worker: http action %s %s: status %d", method, t.Action.URL, resp.StatusCode)
	}

	result := map[string]any{"status": resp.StatusCode}
	var decoded any
	if len(bytes.TrimSpace(respBody)) > 0 && json.Unmarshal(respBody, &decoded) == nil {
		result["body"] = decoded
	} else {
		result["body"] = string(respBody)
	}
	return result, false, nil
}

func (w *Worker) contextSnapshot(ctx context.Context, instanceID string) (map[string]any, error) {
	if instanceID == "" {
		return map[string]any{}, nil
	}
	inst, err := w.engine.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return inst.Context, nil
}
