package worker

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/degov/workflow-core/internal/kerrors"
)

// contextHost implements sandbox.KVHost over the JSON snapshot of an
// instance's context fetched at dispatch time. It is the worker-side half
// of the restriction that Instance.Context only ever changes through a
// sandboxed kv.set call: every Set here lands in this host's own copy,
// never the engine's stored document directly, and the final document is
// what dispatch hands back as the task's result for the engine to merge
// (engine.Complete's patchContext, mirroring internal/engine/kvhost.go's
// contextKVHost on the other side of the RPC boundary).
type contextHost struct {
	doc string
}

func newContextHost(snapshot map[string]any) (*contextHost, error) {
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	return &contextHost{doc: string(raw)}, nil
}

func (h *contextHost) Get(_ context.Context, relativeKey string) (any, error) {
	result := gjson.Get(h.doc, relativeKey)
	if !result.Exists() {
		return nil, kerrors.NewNotFoundError("context key", relativeKey)
	}
	return result.Value(), nil
}

func (h *contextHost) Set(_ context.Context, relativeKey string, value any) error {
	updated, err := sjson.Set(h.doc, relativeKey, value)
	if err != nil {
		return err
	}
	h.doc = updated
	return nil
}

// snapshot decodes the (possibly mutated) document back to a map.
func (h *contextHost) snapshot() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(h.doc), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeJSONPatch merges rawPatch into doc field by field when rawPatch is
// a JSON object, or replaces doc wholesale otherwise (mirrors
// internal/engine/kvhost.go's mergeActionPatch on the other side of the
// RPC boundary).
func mergeJSONPatch(doc string, rawPatch []byte) (string, error) {
	parsed := gjson.ParseBytes(rawPatch)
	if !parsed.IsObject() {
		return string(rawPatch), nil
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
