package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/degov/workflow-core/internal/kerrors"
)

type fakeKVHost struct {
	store map[string]any
}

func newFakeKVHost() *fakeKVHost { return &fakeKVHost{store: make(map[string]any)} }

func (f *fakeKVHost) Get(ctx context.Context, key string) (any, error) {
	v, ok := f.store[key]
	if !ok {
		return nil, kerrors.NewNotFoundError("context key", key)
	}
	return v, nil
}

func (f *fakeKVHost) Set(ctx context.Context, key string, value any) error {
	f.store[key] = value
	return nil
}

func TestEvaluateReturnsJSONValue(t *testing.T) {
	e := NewGojaEvaluator()
	result, err := e.Evaluate(context.Background(), EvalRequest{
		Code:    "({approved: ctx.amount < 1000})",
		Context: map[string]any{"amount": 500},
	})
	require.NoError(t, err)
	m, ok := result.Value.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, m["approved"])
}

func TestEvaluateGuardExpression(t *testing.T) {
	e := NewGojaEvaluator()
	result, err := e.Evaluate(context.Background(), EvalRequest{
		Code:    "ctx.amount < 1000",
		Context: map[string]any{"amount": 5000},
		IsGuard: true,
	})
	require.NoError(t, err)
	require.Equal(t, false, result.Value)
}

func TestEvaluateThrowIsClassifiedAsScriptThrow(t *testing.T) {
	e := NewGojaEvaluator()
	_, err := e.Evaluate(context.Background(), EvalRequest{
		Code: `throw new Error("boom")`,
	})
	require.Error(t, err)
	var scriptErr *kerrors.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Equal(t, kerrors.ScriptThrow, scriptErr.Kind)
}

func TestEvaluateTimeoutIsClassifiedAsScriptTimeout(t *testing.T) {
	e := NewGojaEvaluator()
	_, err := e.Evaluate(context.Background(), EvalRequest{
		Code:    "while(true) {}",
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)
	var scriptErr *kerrors.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Equal(t, kerrors.ScriptTimeout, scriptErr.Kind)
}

func TestEvaluateMemoryLimitIsClassifiedAsScriptOOM(t *testing.T) {
	e := NewGojaEvaluator()
	_, err := e.Evaluate(context.Background(), EvalRequest{
		Code: `
			var chunks = [];
			while (true) {
				chunks.push(new Array(4096).fill("x"));
			}
		`,
		Timeout:          5 * time.Second,
		MemoryLimitBytes: 256 * 1024,
	})
	require.Error(t, err)
	var scriptErr *kerrors.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Equal(t, kerrors.ScriptOOM, scriptErr.Kind)
}

func TestEvaluateGuardCannotCallKVSet(t *testing.T) {
	e := NewGojaEvaluator()
	_, err := e.Evaluate(context.Background(), EvalRequest{
		Code:    "kv.set('foo', 1)",
		IsGuard: true,
	})
	require.Error(t, err)
}

func TestEvaluateActionCanReadAndWriteKV(t *testing.T) {
	e := NewGojaEvaluator()
	kvHost := newFakeKVHost()
	_, err := e.Evaluate(context.Background(), EvalRequest{
		Code:          `kv.set('counter', 1); kv.get('counter')`,
		Collaborators: Collaborators{KV: kvHost},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, kvHost.store["counter"])
}

func TestEvaluateKVSetRejectsEscapingKey(t *testing.T) {
	e := NewGojaEvaluator()
	kvHost := newFakeKVHost()
	_, err := e.Evaluate(context.Background(), EvalRequest{
		Code:          `kv.set('../other', 1)`,
		Collaborators: Collaborators{KV: kvHost},
	})
	require.Error(t, err)
	var scriptErr *kerrors.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Equal(t, kerrors.ScriptHostDenied, scriptErr.Kind)
}

func TestEvaluateRejectsUnsupportedLanguage(t *testing.T) {
	e := NewGojaEvaluator()
	_, err := e.Evaluate(context.Background(), EvalRequest{
		Code:     "1+1",
		Language: "wasm",
	})
	require.Error(t, err)
	var scriptErr *kerrors.ScriptError
	require.ErrorAs(t, err, &scriptErr)
}

type fakeNotifier struct {
	emails int
}

func (f *fakeNotifier) Email(ctx context.Context, to, subject, body string) error {
	f.emails++
	return nil
}

func (f *fakeNotifier) SMS(ctx context.Context, to, body string) error { return nil }

func TestEvaluateNotifyRateLimitIsScopedPerInstance(t *testing.T) {
	e := NewGojaEvaluator(WithNotifyRateLimit(1000, 1))
	notifier := &fakeNotifier{}
	req := EvalRequest{
		Code:          `notify.email('a@example.com', 'hi', 'body')`,
		Capabilities:  NewCapabilitySet(CapNotifyEmail),
		Collaborators: Collaborators{Notifier: notifier},
		InstanceID:    "inst-1",
	}
	_, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, notifier.emails)
}

func TestEvaluateNotifyRateLimitBlocksUntilContextDeadline(t *testing.T) {
	e := NewGojaEvaluator(WithNotifyRateLimit(1, 1))
	notifier := &fakeNotifier{}
	req := EvalRequest{
		Code:          `notify.email('a@example.com', 'hi', 'body')`,
		Capabilities:  NewCapabilitySet(CapNotifyEmail),
		Collaborators: Collaborators{Notifier: notifier},
		InstanceID:    "inst-throttled",
		Timeout:       time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, req)
	require.Error(t, err)
	var scriptErr *kerrors.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	require.Equal(t, kerrors.ScriptTimeout, scriptErr.Kind)
}
