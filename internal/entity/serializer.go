package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultExpandDepth bounds how deep nested entity attributes are expanded
// when an entity is serialized for transmission to an engine.
const DefaultExpandDepth = 10

// aggregateStatsField holds computed aggregates that never travel to engines.
const aggregateStatsField = "stats"

// Serializer renders an entity into the JSON payload submitted with a job.
// Fields not eligible for audit (underscore-prefixed) and aggregate
// statistics are excluded; nesting is cut off at Depth.
type Serializer struct {
	Depth int
}

// NewSerializer returns a serializer with the default depth bound.
func NewSerializer() *Serializer {
	return &Serializer{Depth: DefaultExpandDepth}
}

// Expand serializes rec for transmission.
func (s *Serializer) Expand(rec *Record) (json.RawMessage, error) {
	payload := map[string]any{
		"_type": rec.Type,
		"id":    rec.ID,
	}
	for k, v := range rec.Fields {
		if excludedField(k) {
			continue
		}
		payload[k] = prune(v, s.Depth-1)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize %s %s: %w", rec.Type, rec.ID, err)
	}
	return data, nil
}

func excludedField(name string) bool {
	return strings.HasPrefix(name, "_") || name == aggregateStatsField
}

// prune walks a decoded JSON value, dropping excluded keys and truncating
// below the remaining depth budget.
func prune(v any, depth int) any {
	if depth <= 0 {
		switch v.(type) {
		case map[string]any, []any:
			return nil
		}
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if excludedField(k) {
				continue
			}
			out[k] = prune(item, depth-1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = prune(item, depth-1)
		}
		return out
	default:
		return v
	}
}
