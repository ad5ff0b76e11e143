package appforge

import (
	"fmt"
	"strings"
)

const eventChannelPrefix = "application:"

// EventChannel returns the pub/sub channel carrying events for one application.
func EventChannel(applicationID string) string {
	return eventChannelPrefix + applicationID
}

// ApplicationIDFromChannel reverses EventChannel.
func ApplicationIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, eventChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, eventChannelPrefix), true
}

func ParseViewMode(s string) (ViewMode, error) {
	switch strings.ToLower(s) {
	case "", "editing", "edit":
		return ViewModeEditing, nil
	case "live", "view", "published":
		return ViewModeLive, nil
	default:
		return "", fmt.Errorf("unknown view mode %q", s)
	}
}

func (d DSL) IsEmpty() bool {
	return len(d) == 0
}

// Lookup walks a dot separated path through nested objects.
func (d DSL) Lookup(path string) (any, bool) {
	keys := strings.Split(path, ".")
	current := map[string]any(d)
	for i, k := range keys {
		if i == len(keys)-1 {
			value, ok := current[k]
			return value, ok
		}
		next, ok := AsObject(current[k])
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// Clone returns a deep copy; the result shares no maps or slices with d.
func (d DSL) Clone() DSL {
	if d == nil {
		return nil
	}
	return DSL(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case DSL:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// AsObject accepts both plain decoded objects and DSL values.
func AsObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case DSL:
		return t, true
	default:
		return nil, false
	}
}

// QueryFromMap converts one raw query object. The id is mandatory.
func QueryFromMap(m map[string]any) (Query, error) {
	id, ok := m["id"].(string)
	if !ok || id == "" {
		return Query{}, fmt.Errorf("query id must be a non-empty string")
	}

	q := Query{
		ID:     id,
		Config: make(map[string]any, len(m)),
	}
	if name, ok := m["name"].(string); ok {
		q.Name = name
	}
	if typ, ok := m["type"].(string); ok {
		q.Type = typ
	} else if typ, ok := m["compType"].(string); ok {
		q.Type = typ
	}
	for k, v := range m {
		if k == "id" || k == "name" {
			continue
		}
		q.Config[k] = v
	}
	return q, nil
}
