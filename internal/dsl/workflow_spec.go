package dsl

import (
	"fmt"
	"sort"

	"github.com/degov/workflow-core/domain/workflow"
)

// ActionSpec is the YAML shape of an Action tagged variant (§6.1, §3).
type ActionSpec struct {
	Kind string `yaml:"kind"`

	Code     string `yaml:"code"`
	Language string `yaml:"language"`

	TaskType string         `yaml:"taskType"`
	Payload  map[string]any `yaml:"payload"`

	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`

	Seconds int `yaml:"seconds"`
}

func (a *ActionSpec) toDomain() (*workflow.Action, error) {
	if a == nil {
		return nil, nil
	}
	switch a.Kind {
	case "script":
		lang := workflow.LanguageJavaScript
		if a.Language == string(workflow.LanguageWASM) {
			lang = workflow.LanguageWASM
		}
		return &workflow.Action{Kind: workflow.ActionScript, Code: a.Code, Language: lang}, nil
	case "task":
		return &workflow.Action{Kind: workflow.ActionTask, TaskType: a.TaskType, Payload: a.Payload}, nil
	case "http":
		return &workflow.Action{Kind: workflow.ActionHTTP, URL: a.URL, Method: a.Method, Headers: a.Headers, Body: a.Body}, nil
	case "delay":
		return &workflow.Action{Kind: workflow.ActionDelay, DelaySeconds: a.Seconds}, nil
	default:
		return nil, fmt.Errorf("action: unknown kind %q", a.Kind)
	}
}

// StateSpec is one entry of a Workflow spec's `states` map.
type StateSpec struct {
	IsTerminal     bool        `yaml:"isTerminal"`
	OnEnter        *ActionSpec `yaml:"onEnter"`
	OnExit         *ActionSpec `yaml:"onExit"`
	TimeoutSeconds int         `yaml:"timeoutSeconds"`
}

// TransitionSpec is one entry of a Workflow spec's `transitions` map; the
// map key becomes Transition.ID.
type TransitionSpec struct {
	From         string      `yaml:"from"`
	To           string      `yaml:"to"`
	Event        string      `yaml:"event"`
	Guard        string      `yaml:"guard"`
	Action       *ActionSpec `yaml:"action"`
	Compensation *ActionSpec `yaml:"compensation"`
}

// WorkflowSpec is the `spec` block of a `kind: Workflow` file.
type WorkflowSpec struct {
	Model        string                    `yaml:"model"`
	InitialState string                    `yaml:"initialState"`
	States       map[string]StateSpec      `yaml:"states"`
	Transitions  map[string]TransitionSpec `yaml:"transitions"`
}

// ResolvedWorkflow is a Workflow after inheritance merge, with a pointer
// to its governing DataModel NSID for guard static validation.
type ResolvedWorkflow struct {
	ID      NSID
	Version int
	Spec    WorkflowSpec

	Warnings []string
}

// ToDefinition converts a resolved workflow spec into the domain model
// the engine interprets, validating it in the process.
func (r ResolvedWorkflow) ToDefinition() (workflow.Definition, error) {
	states := make(map[string]workflow.StateDefinition, len(r.Spec.States))
	for name, s := range r.Spec.States {
		onEnter, err := s.OnEnter.toDomain()
		if err != nil {
			return workflow.Definition{}, fmt.Errorf("state %q onEnter: %w", name, err)
		}
		onExit, err := s.OnExit.toDomain()
		if err != nil {
			return workflow.Definition{}, fmt.Errorf("state %q onExit: %w", name, err)
		}
		states[name] = workflow.StateDefinition{
			Name:           name,
			IsTerminal:     s.IsTerminal,
			OnEnter:        onEnter,
			OnExit:         onExit,
			TimeoutSeconds: s.TimeoutSeconds,
		}
	}

	ids := make([]string, 0, len(r.Spec.Transitions))
	for id := range r.Spec.Transitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	transitions := make([]workflow.Transition, 0, len(r.Spec.Transitions))
	for _, id := range ids {
		t := r.Spec.Transitions[id]
		action, err := t.Action.toDomain()
		if err != nil {
			return workflow.Definition{}, fmt.Errorf("transition %q action: %w", id, err)
		}
		compensation, err := t.Compensation.toDomain()
		if err != nil {
			return workflow.Definition{}, fmt.Errorf("transition %q compensation: %w", id, err)
		}
		transitions = append(transitions, workflow.Transition{
			ID:           id,
			From:         t.From,
			To:           t.To,
			Event:        t.Event,
			Guard:        t.Guard,
			Action:       action,
			Compensation: compensation,
		})
	}

	def := workflow.Definition{
		ID:           r.ID.String(),
		Version:      r.Version,
		InitialState: r.Spec.InitialState,
		States:       states,
		Transitions:  transitions,
	}
	if err := def.Validate(); err != nil {
		return workflow.Definition{}, err
	}
	return def, nil
}
