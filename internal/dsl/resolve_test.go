package dsl

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func dataModelDef(id string, version int, inherits []string, spec DataModelSpec) RawDefinition {
	var node yaml.Node
	if err := node.Encode(spec); err != nil {
		panic(err)
	}
	return RawDefinition{
		APIVersion: "v1",
		Kind:       KindDataModel,
		Metadata: Metadata{
			ID:       id,
			Version:  version,
			Inherits: inherits,
		},
		Spec: node,
	}
}

func TestResolveDataModelMergeFollowsSpecExample(t *testing.T) {
	a := dataModelDef("de.berlin/a", 1, nil, DataModelSpec{
		Properties: map[string]Property{"x": {Type: "int"}, "z": {Type: "int"}},
	})
	b := dataModelDef("de.berlin/b", 1, []string{"de.berlin/a"}, DataModelSpec{
		Properties: map[string]Property{"x": {Type: "string"}, "y": {Type: "int"}},
		Required:   []string{"y"},
	})
	c := dataModelDef("de.berlin/c", 1, []string{"de.berlin/a", "de.berlin/b"}, DataModelSpec{
		Properties: map[string]Property{"z": {Type: "string"}},
	})

	resolved, err := Resolve([]RawDefinition{a, b, c})
	require.NoError(t, err)

	byID := make(map[string]Resolved)
	for _, r := range resolved {
		byID[r.ID.String()] = r
	}

	bModel := byID["de.berlin/b"].DataModel
	require.Equal(t, "string", bModel.Spec.Properties["x"].Type)
	require.Equal(t, "int", bModel.Spec.Properties["y"].Type)
	require.Contains(t, bModel.Spec.Required, "y")

	cModel := byID["de.berlin/c"].DataModel
	// z: child C overrides both parents' z.
	require.Equal(t, "string", cModel.Spec.Properties["z"].Type)
	// x: not redeclared by C; A is the first-declared parent and wins
	// over B for conflicts between parents.
	require.Equal(t, "int", cModel.Spec.Properties["x"].Type)
	require.Equal(t, "int", cModel.Spec.Properties["y"].Type)
}

func TestResolveDetectsCycle(t *testing.T) {
	a := dataModelDef("de.berlin/a", 1, []string{"de.berlin/b"}, DataModelSpec{})
	b := dataModelDef("de.berlin/b", 1, []string{"de.berlin/a"}, DataModelSpec{})

	_, err := Resolve([]RawDefinition{a, b})
	require.Error(t, err)
	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
}

func TestResolveMissingParentFails(t *testing.T) {
	a := dataModelDef("de.berlin/a", 1, []string{"de.berlin/ghost"}, DataModelSpec{})
	_, err := Resolve([]RawDefinition{a})
	require.Error(t, err)
	var missingErr *MissingParentError
	require.ErrorAs(t, err, &missingErr)
}

func TestResolveWorkflowInheritsStatesAndTransitions(t *testing.T) {
	var parentNode yaml.Node
	require.NoError(t, parentNode.Encode(WorkflowSpec{
		InitialState: "S0",
		States: map[string]StateSpec{
			"S0": {},
			"S1": {IsTerminal: true},
		},
		Transitions: map[string]TransitionSpec{
			"t1": {From: "S0", To: "S1", Event: "e"},
		},
	}))
	parent := RawDefinition{
		APIVersion: "v1",
		Kind:       KindWorkflow,
		Metadata:   Metadata{ID: "de.berlin/base#workflow", Version: 1},
		Spec:       parentNode,
	}

	var childNode yaml.Node
	require.NoError(t, childNode.Encode(WorkflowSpec{
		Transitions: map[string]TransitionSpec{
			"t2": {From: "S0", To: "S1", Event: "cancel"},
		},
	}))
	child := RawDefinition{
		APIVersion: "v1",
		Kind:       KindWorkflow,
		Metadata:   Metadata{ID: "de.berlin/child#workflow", Version: 1, Inherits: []string{"de.berlin/base#workflow"}},
		Spec:       childNode,
	}

	resolved, err := Resolve([]RawDefinition{parent, child})
	require.NoError(t, err)

	var childResolved *ResolvedWorkflow
	for _, r := range resolved {
		if r.ID.String() == "de.berlin/child#workflow" {
			childResolved = r.Workflow
		}
	}
	require.NotNil(t, childResolved)
	require.Equal(t, "S0", childResolved.Spec.InitialState)
	require.Len(t, childResolved.Spec.Transitions, 2)

	def, err := childResolved.ToDefinition()
	require.NoError(t, err)
	require.NoError(t, def.Validate())
}
