package analysis

import (
	"fmt"
	"slices"
)

// Violation describes one way a recovered object departs from the schema.
type Violation struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Problem
}

// Validate checks fields against the schema's shape and cardinality bands.
// It never fails; callers decide what to do with the violations.
func Validate(fields map[string]any) []Violation {
	var out []Violation

	for _, name := range ScalarFields {
		raw, ok := fields[name]
		if !ok {
			out = append(out, Violation{Field: name, Problem: "missing"})
			continue
		}
		s, ok := raw.(string)
		if !ok {
			out = append(out, Violation{Field: name, Problem: "not a string"})
			continue
		}
		if name == "sentiment" && !slices.Contains(Sentiments, s) {
			out = append(out, Violation{Field: name, Problem: fmt.Sprintf("unexpected value %q", s)})
		}
	}

	for _, af := range ArrayFields {
		out = append(out, checkArray(fields, af.Name, af.Name, &af.Band)...)
	}

	geo, ok := fields["geographicInsights"]
	switch {
	case !ok:
		out = append(out, Violation{Field: "geographicInsights", Problem: "missing"})
	default:
		obj, isObj := geo.(map[string]any)
		if !isObj {
			out = append(out, Violation{Field: "geographicInsights", Problem: "not an object"})
			break
		}
		for _, list := range GeographicLists {
			out = append(out, checkArray(obj, list, "geographicInsights."+list, nil)...)
		}
	}
	return out
}

func checkArray(obj map[string]any, key, field string, band *Band) []Violation {
	raw, ok := obj[key]
	if !ok {
		return []Violation{{Field: field, Problem: "missing"}}
	}
	items, ok := raw.([]any)
	if !ok {
		return []Violation{{Field: field, Problem: "not an array"}}
	}
	if band != nil && !band.Contains(len(items)) {
		return []Violation{{
			Field:   field,
			Problem: fmt.Sprintf("has %d entries, want %s", len(items), band),
		}}
	}
	return nil
}
