package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/time/rate"

	"github.com/degov/workflow-core/domain/workflow"
	"github.com/degov/workflow-core/internal/kerrors"
)

// DefaultActionTimeout and DefaultGuardTimeout are the wall-clock limits
// §4.2 specifies when a caller doesn't override them: 5s for actions,
// 100ms for guards (guards are expected to be pure field comparisons).
const (
	DefaultActionTimeout = 5 * time.Second
	DefaultGuardTimeout  = 100 * time.Millisecond
	DefaultMemoryLimit   = 128 * 1024 * 1024
)

// DefaultNotifyRatePerSecond and DefaultNotifyBurst bound how often one
// instance's scripts may call notify.*/federated.* (§5, "Shared
// resources": these calls are external and at-least-once, so a runaway
// script must not be able to hammer them on every evaluation).
const (
	DefaultNotifyRatePerSecond = 5.0
	DefaultNotifyBurst         = 5
)

// EvalRequest describes one script evaluation.
type EvalRequest struct {
	Code       string
	Language   workflow.ScriptLanguage
	Context    map[string]any
	InstanceID string
	IsGuard    bool

	// Capabilities overrides the default full-action capability set.
	// Leave nil to use FullActionCapabilities() for non-guard evaluations;
	// IsGuard always forces GuardCapabilities() regardless of this field.
	Capabilities CapabilitySet

	Timeout          time.Duration
	MemoryLimitBytes int64

	Collaborators Collaborators
}

// EvalResult is what a successful evaluation produces.
type EvalResult struct {
	Value any
	Logs  []string
}

// Evaluator runs one Action::Script evaluation to completion or failure.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvalRequest) (EvalResult, error)
}

// gojaEvaluator is the pure-Go JavaScript backend (§4.2's `javascript`
// language). A WASM backend would implement the same interface; none is
// wired here since no WASM runtime appears anywhere in the retrieval
// pack to ground one on.
type gojaEvaluator struct {
	notifyRate  float64
	notifyBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a gojaEvaluator constructed by NewGojaEvaluator.
type Option func(*gojaEvaluator)

// WithNotifyRateLimit overrides the per-instance token bucket applied to
// notify.*/federated.* host calls.
func WithNotifyRateLimit(eventsPerSecond float64, burst int) Option {
	return func(e *gojaEvaluator) {
		e.notifyRate = eventsPerSecond
		e.notifyBurst = burst
	}
}

// NewGojaEvaluator constructs the javascript-language Evaluator.
func NewGojaEvaluator(opts ...Option) Evaluator {
	e := &gojaEvaluator{
		notifyRate:  DefaultNotifyRatePerSecond,
		notifyBurst: DefaultNotifyBurst,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// limiterFor returns the token bucket for instanceID, creating one on
// first use. Evaluations with no InstanceID (guards; ad hoc evaluation)
// get no limiter at all, since GuardCapabilities never grants notify or
// federated capabilities in the first place.
func (e *gojaEvaluator) limiterFor(instanceID string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limiters == nil {
		e.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := e.limiters[instanceID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.notifyRate), e.notifyBurst)
		e.limiters[instanceID] = l
	}
	return l
}

func (e *gojaEvaluator) Evaluate(ctx context.Context, req EvalRequest) (EvalResult, error) {
	if req.Language != "" && req.Language != workflow.LanguageJavaScript {
		return EvalResult{}, kerrors.NewScriptError(kerrors.ScriptThrow, fmt.Sprintf("unsupported script language %q", req.Language))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		if req.IsGuard {
			timeout = DefaultGuardTimeout
		} else {
			timeout = DefaultActionTimeout
		}
	}
	memLimit := req.MemoryLimitBytes
	if memLimit <= 0 {
		memLimit = DefaultMemoryLimit
	}

	caps := req.Capabilities
	if req.IsGuard {
		caps = GuardCapabilities()
	} else if caps == nil {
		caps = FullActionCapabilities()
	}

	vm := goja.New()
	vm.SetMemoryLimit(uint64(memLimit))

	logs := make([]string, 0)
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		logs = append(logs, fmt.Sprint(parts))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	var limiter *rate.Limiter
	if req.InstanceID != "" {
		limiter = e.limiterFor(req.InstanceID)
	}
	bindHost(vm, caps, req.Collaborators, ctx, limiter)
	_ = vm.Set("ctx", vm.ToValue(req.Context))

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt(kerrors.NewScriptError(kerrors.ScriptTimeout, "script exceeded its wall-clock budget"))
	})
	defer timer.Stop()

	value, err := vm.RunString(req.Code)
	if err != nil {
		return EvalResult{}, classify(err)
	}

	return EvalResult{Value: exportJSON(value), Logs: logs}, nil
}

// classify maps a goja execution error onto the §7 ScriptError taxonomy:
// an InterruptedError carries either the value passed to vm.Interrupt (our
// own timeout ScriptError) or goja's own ErrMemoryLimitExceeded marker when
// vm.SetMemoryLimit's cap was hit; a thrown Go error from a host function
// surfaces as-is if it is already a *kerrors.ScriptError; everything else
// is a plain script throw.
func classify(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if scriptErr, ok := interrupted.Value().(error); ok {
			if errors.Is(scriptErr, goja.ErrMemoryLimitExceeded) {
				return kerrors.NewScriptError(kerrors.ScriptOOM, "script exceeded its memory budget")
			}
			return scriptErr
		}
		return kerrors.NewScriptError(kerrors.ScriptTimeout, "script exceeded its wall-clock budget")
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		if exported := exception.Value().Export(); exported != nil {
			if scriptErr, ok := exported.(error); ok {
				var se *kerrors.ScriptError
				if errors.As(scriptErr, &se) {
					return se
				}
			}
		}
		return kerrors.NewScriptError(kerrors.ScriptThrow, exception.Error())
	}

	return kerrors.NewScriptError(kerrors.ScriptThrow, err.Error())
}

// exportJSON round-trips a goja.Value export through JSON so the result
// is always plain Go maps/slices/scalars regardless of what the script
// returned, matching the "return a JSON value" contract in §4.2.
func exportJSON(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	data, err := json.Marshal(exported)
	if err != nil {
		return exported
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return exported
	}
	return out
}
