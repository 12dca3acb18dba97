package engine

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/degov/workflow-core/internal/kerrors"
)

// contextKVHost implements sandbox.KVHost over one instance's context
// document, read and patched with gjson/sjson rather than through a full
// map[string]any unmarshal/marshal round trip on every call — a script
// that only ever touches a couple of fields shouldn't pay for the whole
// document's worth of Go interface allocations each time (grounded on
// services/datafeeds/datafeeds.go's gjson usage over the feed document).
type contextKVHost struct {
	doc string
}

func newContextKVHost(context map[string]any) (*contextKVHost, error) {
	if context == nil {
		context = map[string]any{}
	}
	raw, err := json.Marshal(context)
	if err != nil {
		return nil, err
	}
	return &contextKVHost{doc: string(raw)}, nil
}

func (h *contextKVHost) Get(_ context.Context, relativeKey string) (any, error) {
	result := gjson.Get(h.doc, relativeKey)
	if !result.Exists() {
		return nil, kerrors.NewNotFoundError("context key", relativeKey)
	}
	return result.Value(), nil
}

func (h *contextKVHost) Set(_ context.Context, relativeKey string, value any) error {
	updated, err := sjson.Set(h.doc, relativeKey, value)
	if err != nil {
		return err
	}
	h.doc = updated
	return nil
}

// context returns the patched document decoded back to a map, the shape
// Instance.Context is stored as.
func (h *contextKVHost) context() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(h.doc), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// patchContext merges an action's JSON result into context and returns the
// updated document decoded back to a map, the one place outside a script's
// own kv.set calls that Instance.Context is ever mutated (§4.4,
// "applying an action's returned patch").
func patchContext(context map[string]any, result any) (map[string]any, error) {
	host, err := newContextKVHost(context)
	if err != nil {
		return nil, err
	}
	merged, err := mergeActionPatch(host.doc, result)
	if err != nil {
		return nil, err
	}
	host.doc = merged
	return host.context()
}

// mergeActionPatch merges a script action's JSON return value into doc
// using sjson, one field at a time for object patches (a script returning
// a flat object means "set these fields"), or wholesale-replaces doc when
// the action returned a non-object value.
func mergeActionPatch(doc string, patch any) (string, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return doc, err
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return string(raw), nil
	}
	updated := doc
	var mergeErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		updated, mergeErr = sjson.Set(updated, key.String(), value.Value())
		return mergeErr == nil
	})
	if mergeErr != nil {
		return doc, mergeErr
	}
	return updated, nil
}
