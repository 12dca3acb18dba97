package dsl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/degov/workflow-core/internal/kerrors"
)

// CircularDependencyError reports an inheritance cycle with its full path.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular inheritance: %s", strings.Join(e.Path, " -> "))
}

// MissingParentError reports a parent NSID named in `inherits` that has
// no corresponding definition among the ones being resolved.
type MissingParentError struct {
	Child  string
	Parent string
}

func (e *MissingParentError) Error() string {
	return fmt.Sprintf("%s inherits undefined parent %s", e.Child, e.Parent)
}

// Resolved is a definition after inheritance merge: exactly one of
// DataModel or Workflow is set, matching the definition's Kind.
type Resolved struct {
	ID       NSID
	Kind     Kind
	Version  int
	Warnings []string

	DataModel *ResolvedDataModel
	Workflow  *ResolvedWorkflow
}

// Resolve builds the inheritance DAG over defs (filtered to Workflow and
// DataModel kinds), topologically sorts it, and merges parents before
// children per the rules in §4.1: properties/states/indexes/computed
// keyed union with child-wins-on-collision, required field lists unioned,
// and earlier-declared parents winning over later ones when a key
// collides between two parents of the same child.
func Resolve(defs []RawDefinition) ([]Resolved, error) {
	byID := make(map[string]RawDefinition)
	var order []string
	for _, d := range defs {
		if !d.Kind.mergeable() {
			continue
		}
		nsid, err := d.NSID()
		if err != nil {
			return nil, err
		}
		id := nsid.String()
		if _, dup := byID[id]; dup {
			return nil, kerrors.NewConflictError("definition", id, "duplicate NSID among resolve inputs")
		}
		byID[id] = d
		order = append(order, id)
	}

	for id, d := range byID {
		for _, parent := range d.Metadata.Inherits {
			if _, ok := byID[parent]; !ok {
				return nil, &MissingParentError{Child: id, Parent: parent}
			}
		}
	}

	sorted, err := topoSort(byID)
	if err != nil {
		return nil, err
	}

	resolvedByID := make(map[string]Resolved, len(sorted))
	out := make([]Resolved, 0, len(sorted))
	for _, id := range sorted {
		d := byID[id]
		nsid, _ := d.NSID()

		parents := make([]Resolved, 0, len(d.Metadata.Inherits))
		for _, p := range d.Metadata.Inherits {
			parents = append(parents, resolvedByID[p])
		}

		var r Resolved
		switch d.Kind {
		case KindDataModel:
			r, err = resolveDataModel(nsid, d, parents)
		case KindWorkflow:
			r, err = resolveWorkflow(nsid, d, parents)
		}
		if err != nil {
			return nil, err
		}

		resolvedByID[id] = r
		out = append(out, r)
	}

	// Preserve input declaration order in the returned slice rather than
	// topological order, since callers register/validate in the order they
	// discovered files.
	byOutID := make(map[string]Resolved, len(out))
	for _, r := range out {
		byOutID[r.ID.String()] = r
	}
	ordered := make([]Resolved, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, byOutID[id])
	}
	return ordered, nil
}

// topoSort runs Kahn's algorithm over the child->parent edges (a child
// depends on its parents being merged first), returning node IDs in
// parent-before-child order. A non-empty remainder after the algorithm
// terminates indicates a cycle; the path is reconstructed by following
// inherits edges from an arbitrary remaining node.
func topoSort(byID map[string]RawDefinition) ([]string, error) {
	inDegree := make(map[string]int, len(byID))
	for id := range byID {
		inDegree[id] = 0
	}
	for _, d := range byID {
		for range d.Metadata.Inherits {
			inDegree[idOf(d)]++
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	resolvedCount := 0
	resolvedSet := make(map[string]bool, len(byID))
	var out []string

	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]

		out = append(out, id)
		resolvedSet[id] = true
		resolvedCount++

		for childID, d := range byID {
			if resolvedSet[childID] {
				continue
			}
			for _, parent := range d.Metadata.Inherits {
				if parent == id {
					inDegree[childID]--
					if inDegree[childID] == 0 {
						ready = append(ready, childID)
					}
				}
			}
		}
	}

	if resolvedCount != len(byID) {
		var remaining []string
		for id := range byID {
			if !resolvedSet[id] {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		path := cyclePath(byID, resolvedSet, remaining[0])
		return nil, &CircularDependencyError{Path: path}
	}
	return out, nil
}

func idOf(d RawDefinition) string {
	nsid, _ := d.NSID()
	return nsid.String()
}

// cyclePath follows inherits edges from start through unresolved nodes
// until it revisits a node, producing the cycle as a printable path.
func cyclePath(byID map[string]RawDefinition, resolved map[string]bool, start string) []string {
	visited := make(map[string]bool)
	path := []string{start}
	cur := start
	for {
		d, ok := byID[cur]
		if !ok || len(d.Metadata.Inherits) == 0 {
			break
		}
		next := ""
		for _, p := range d.Metadata.Inherits {
			if !resolved[p] {
				next = p
				break
			}
		}
		if next == "" {
			break
		}
		if visited[next] {
			path = append(path, next)
			break
		}
		visited[next] = true
		path = append(path, next)
		cur = next
	}
	return path
}

func resolveDataModel(nsid NSID, d RawDefinition, parents []Resolved) (Resolved, error) {
	var spec DataModelSpec
	if err := d.Spec.Decode(&spec); err != nil {
		return Resolved{}, fmt.Errorf("%s: decoding DataModel spec: %w", nsid, err)
	}

	properties := make(map[string]Property)
	indexes := make(map[string]Index)
	computed := make(map[string]ComputedField)
	requiredSet := make(map[string]bool)

	for _, p := range parents {
		if p.DataModel == nil {
			continue
		}
		mergeParentInto(properties, p.DataModel.Spec.Properties)
		mergeParentInto(indexes, p.DataModel.Spec.Indexes)
		mergeParentInto(computed, p.DataModel.Spec.Computed)
		for _, req := range p.DataModel.Spec.Required {
			requiredSet[req] = true
		}
	}
	overrideInto(properties, spec.Properties)
	overrideInto(indexes, spec.Indexes)
	overrideInto(computed, spec.Computed)
	for _, req := range spec.Required {
		requiredSet[req] = true
	}

	required := make([]string, 0, len(requiredSet))
	for req := range requiredSet {
		required = append(required, req)
	}
	sort.Strings(required)

	return Resolved{
		ID:      nsid,
		Kind:    KindDataModel,
		Version: d.Metadata.Version,
		DataModel: &ResolvedDataModel{
			ID:      nsid,
			Version: d.Metadata.Version,
			Spec: DataModelSpec{
				Properties: properties,
				Required:   required,
				Indexes:    indexes,
				Computed:   computed,
			},
		},
	}, nil
}

// mergeParentInto copies src into dst, skipping keys dst already has.
// Callers invoke it once per parent in declaration order, so the first
// parent to declare a key wins over later parents that redeclare it.
func mergeParentInto[V any](dst, src map[string]V) {
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
}

// overrideInto copies src into dst unconditionally, used once the child's
// own declarations are applied on top of its merged parents so the child
// always wins regardless of what its parents declared.
func overrideInto[V any](dst, src map[string]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func resolveWorkflow(nsid NSID, d RawDefinition, parents []Resolved) (Resolved, error) {
	var spec WorkflowSpec
	if err := d.Spec.Decode(&spec); err != nil {
		return Resolved{}, fmt.Errorf("%s: decoding Workflow spec: %w", nsid, err)
	}

	states := make(map[string]StateSpec)
	transitions := make(map[string]TransitionSpec)
	model := ""
	initialState := ""

	for _, p := range parents {
		if p.Workflow == nil {
			continue
		}
		mergeParentInto(states, p.Workflow.Spec.States)
		mergeParentInto(transitions, p.Workflow.Spec.Transitions)
		if model == "" {
			model = p.Workflow.Spec.Model
		}
		if initialState == "" {
			initialState = p.Workflow.Spec.InitialState
		}
	}
	for name, s := range spec.States {
		states[name] = s
	}
	for id, t := range spec.Transitions {
		transitions[id] = t
	}
	if spec.Model != "" {
		model = spec.Model
	}
	if spec.InitialState != "" {
		initialState = spec.InitialState
	}

	return Resolved{
		ID:      nsid,
		Kind:    KindWorkflow,
		Version: d.Metadata.Version,
		Workflow: &ResolvedWorkflow{
			ID:      nsid,
			Version: d.Metadata.Version,
			Spec: WorkflowSpec{
				Model:        model,
				InitialState: initialState,
				States:       states,
				Transitions:  transitions,
			},
		},
	}, nil
}
