package document

import (
	"encoding/json"
	"fmt"
	"math"
)

// Document is an overlay configuration. Only scene.start and scene.end are
// interpreted; every other field is carried through untouched.
type Document map[string]any

// Parse decodes a JSON object into a Document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse document: not a JSON object")
	}
	return doc, nil
}

// Marshal encodes the document as JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(map[string]any(d))
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(val)).(map[string]any))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// Scene returns the scene descriptor when present.
func (d Document) Scene() (map[string]any, bool) {
	if d == nil {
		return nil, false
	}
	scene, ok := d["scene"].(map[string]any)
	return scene, ok
}

// Bounds returns scene.start and scene.end. ok is false when either is
// missing or not a number.
func (d Document) Bounds() (start, end int, ok bool) {
	scene, found := d.Scene()
	if !found {
		return 0, 0, false
	}
	start, okStart := toSeconds(scene["start"])
	end, okEnd := toSeconds(scene["end"])
	if !okStart || !okEnd {
		return 0, 0, false
	}
	return start, end, true
}

// SetBounds writes scene.start and scene.end. It is a no-op without a scene.
func (d Document) SetBounds(start, end int) bool {
	scene, ok := d.Scene()
	if !ok {
		return false
	}
	scene["start"] = start
	scene["end"] = end
	return true
}

func toSeconds(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(math.Round(n)), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	default:
		return 0, false
	}
}
