package dsl

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/PaesslerAG/jsonpath"
)

// ctxReference matches a `ctx.foo.bar` style field access inside a guard
// expression; this is intentionally a lexical scan rather than a full JS
// parse, since the lint is best-effort (§4.1: "a best-effort lint, not a
// hard failure").
var ctxReference = regexp.MustCompile(`\bctx(\.[A-Za-z_][A-Za-z0-9_]*)+`)

// LintGuards scans every transition guard in wf against model's declared
// properties and appends a warning to wf.Warnings for each `ctx.*`
// reference that does not resolve against a zero-valued sample built from
// the model's properties. Nothing here is fatal: a workflow with no
// `spec.model` or an unresolvable path is still usable, just unverified.
func LintGuards(wf *ResolvedWorkflow, model *ResolvedDataModel) {
	if model == nil {
		return
	}
	sample := sampleFromProperties(model.Spec.Properties)

	ids := make([]string, 0, len(wf.Spec.Transitions))
	for id := range wf.Spec.Transitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := wf.Spec.Transitions[id]
		if t.Guard == "" {
			continue
		}
		for _, match := range ctxReference.FindAllString(t.Guard, -1) {
			path := "$" + match[len("ctx"):]
			if _, err := jsonpath.Get(path, sample); err != nil {
				wf.Warnings = append(wf.Warnings, fmt.Sprintf(
					"transition %q: guard references %q which does not resolve against model %s: %s",
					id, match, model.ID, err))
			}
		}
	}
}

func sampleFromProperties(props map[string]Property) map[string]any {
	sample := make(map[string]any, len(props))
	for name, p := range props {
		sample[name] = zeroValueForType(p.Type)
	}
	return sample
}

func zeroValueForType(t string) any {
	switch t {
	case "int", "integer":
		return 0
	case "float", "number":
		return 0.0
	case "bool", "boolean":
		return false
	case "string":
		return ""
	default:
		// References to other data models or unrecognized types resolve
		// as an empty object, which is enough for field-existence checks
		// one level deep.
		return map[string]any{}
	}
}
