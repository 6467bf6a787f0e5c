package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store payloads arrive as loosely typed documents (Qdrant payload maps, BSON
// documents). Adapters decode them into the closed set of model types here and
// reject anything of unknown shape instead of letting it propagate inward.

// FragmentFromPayload decodes a dynamic store payload into a MemoryFragment.
func FragmentFromPayload(payload map[string]any) (MemoryFragment, error) {
	if payload == nil {
		return MemoryFragment{}, fmt.Errorf("nil fragment payload")
	}
	frag := MemoryFragment{
		ID:           StringFromAny(payload["id"]),
		OwnerID:      StringFromAny(payload["owner_id"]),
		Text:         StringFromAny(payload["text"]),
		SourceTurnID: StringFromAny(payload["source_turn_id"]),
		Kind:         Kind(StringFromAny(payload["kind"])),
		CreatedAt:    TimeFromAny(payload["created_at"]),
	}
	if frag.OwnerID == "" {
		return MemoryFragment{}, fmt.Errorf("fragment payload missing owner_id")
	}
	if frag.Text == "" {
		return MemoryFragment{}, fmt.Errorf("fragment payload missing text")
	}
	switch frag.Kind {
	case KindRaw, KindConsolidated:
	case "":
		frag.Kind = KindRaw
	default:
		return MemoryFragment{}, fmt.Errorf("fragment payload has unknown kind %q", frag.Kind)
	}
	if vec := Float32SliceFromAny(payload["embedding"]); len(vec) > 0 {
		frag.Embedding = vec
	}
	return frag, nil
}

// PayloadFromFragment is the inverse of FragmentFromPayload, used by adapters
// that persist documents rather than columns.
func PayloadFromFragment(frag MemoryFragment) map[string]any {
	return map[string]any{
		"id":             frag.ID,
		"owner_id":       frag.OwnerID,
		"text":           frag.Text,
		"source_turn_id": frag.SourceTurnID,
		"kind":           string(frag.Kind),
		"created_at":     frag.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func StringFromAny(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}

func FloatFromAny(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		var f float64
		if err := json.Unmarshal([]byte(t), &f); err == nil {
			return f
		}
	}
	return 0
}

func IntFromAny(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}

func TimeFromAny(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func Float32SliceFromAny(v any) []float32 {
	switch t := v.(type) {
	case []float32:
		return t
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(t))
		for _, item := range t {
			out = append(out, float32(FloatFromAny(item)))
		}
		return out
	}
	return nil
}
