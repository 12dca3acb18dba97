package dsl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLintGuardsFlagsUnknownField(t *testing.T) {
	model := &ResolvedDataModel{
		ID: NSID{Authority: "de.berlin", Entity: "registration"},
		Spec: DataModelSpec{
			Properties: map[string]Property{"amount": {Type: "int"}},
		},
	}
	wf := &ResolvedWorkflow{
		Spec: WorkflowSpec{
			Transitions: map[string]TransitionSpec{
				"t1": {Guard: "ctx.amount < 1000"},
				"t2": {Guard: "ctx.unknownField == true"},
			},
		},
	}

	LintGuards(wf, model)
	require.Len(t, wf.Warnings, 1)
	require.Contains(t, wf.Warnings[0], "unknownField")
}

func TestLintGuardsNoModelIsNoop(t *testing.T) {
	wf := &ResolvedWorkflow{
		Spec: WorkflowSpec{
			Transitions: map[string]TransitionSpec{
				"t1": {Guard: "ctx.amount < 1000"},
			},
		},
	}
	LintGuards(wf, nil)
	require.Empty(t, wf.Warnings)
}

func TestLintGuardsIgnoresGuardlessTransitions(t *testing.T) {
	model := &ResolvedDataModel{Spec: DataModelSpec{Properties: map[string]Property{}}}
	wf := &ResolvedWorkflow{
		Spec: WorkflowSpec{
			Transitions: map[string]TransitionSpec{
				"t1": {},
			},
		},
	}
	LintGuards(wf, model)
	require.Empty(t, wf.Warnings)
}
