// Package transform converts the raw graph export of a data-commons project
// into subject-centric nested documents ready for index loading. The engine
// is a single-threaded batch pass: the dictionary-derived rule table decides
// per field how a value is coerced or retracted, association indexes resolve
// timing and person references, and the assembler stitches every node type
// onto its parent subject aggregate.
package transform

import (
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is a dynamic source or output record. The export carries arbitrary
// dictionary-declared fields, so records stay maps rather than structs; the
// rule table supplies the typing the shape does not.
type Record = map[string]any

// Project maps node-type name to the records exported for that type.
type Project = map[string][]Record

// Stub is a relationship reference carried on a record ("subjects",
// "persons", "timings" arrays).
type Stub struct {
	NodeID      string
	SubmitterID string
}

// stubsOf decodes the named relationship array on a record. Entries that are
// not objects are ignored.
func stubsOf(r Record, key string) []Stub {
	raw, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Stub, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(Record)
		if !ok {
			continue
		}
		out = append(out, Stub{
			NodeID:      stringValue(m["node_id"]),
			SubmitterID: stringValue(m["submitter_id"]),
		})
	}
	return out
}

// hasStubs reports whether the record carries the named relationship array
// at all, present-but-empty included.
func hasStubs(r Record, key string) bool {
	_, ok := r[key]
	return ok
}

// CloneRecord deep-copies a record. Every subject aggregate exclusively owns
// the copies of anything it attaches from a shared index; sharing a mutable
// record across two subjects is an aliasing bug.
func CloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case Record:
		return CloneRecord(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	case []Record:
		out := make([]Record, len(tv))
		for i, e := range tv {
			out[i] = CloneRecord(e)
		}
		return out
	default:
		return v
	}
}

// ToNum converts a raw export value to a number, preferring an integer when
// the value denotes one ("12" -> 12, "12.5" -> 12.5).
func ToNum(v any) (any, error) {
	var f float64
	switch tv := v.(type) {
	case int:
		return int64(tv), nil
	case int64:
		return tv, nil
	case float64:
		f = tv
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", tv)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("not a number: %v (%T)", v, v)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return f, nil
}

// ToArray converts a raw export value to a list. The submission export
// returns array fields as comma-separated strings instead of arrays, so
// strings are split CSV-style; values that already are lists pass through.
func ToArray(v any) (any, error) {
	switch tv := v.(type) {
	case []any:
		return tv, nil
	case []string:
		return tv, nil
	case string:
		reader := csv.NewReader(strings.NewReader(tv))
		values, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("error transforming array value %q: %w", tv, err)
		}
		return values, nil
	default:
		return nil, fmt.Errorf("error transforming array value: %v (%T)", v, v)
	}
}

// truthy mirrors the population predicate for optional fields: nil, empty
// strings, zeros, and empty collections all count as absent.
func truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case string:
		return tv != ""
	case bool:
		return tv
	case float64:
		return tv != 0
	case int:
		return tv != 0
	case int64:
		return tv != 0
	case []any:
		return len(tv) > 0
	case []Record:
		return len(tv) > 0
	case Record:
		return len(tv) > 0
	default:
		return true
	}
}

// stringValue renders a scalar as a string for identifier and control-value
// comparisons; non-scalars render empty.
func stringValue(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case float64:
		if tv == math.Trunc(tv) {
			return strconv.FormatInt(int64(tv), 10)
		}
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(tv, 10)
	case int:
		return strconv.Itoa(tv)
	case bool:
		return strconv.FormatBool(tv)
	default:
		return ""
	}
}

// asFloat extracts a numeric value for ordering; non-numbers read as zero.
func asFloat(v any) float64 {
	switch tv := v.(type) {
	case float64:
		return tv
	case int64:
		return float64(tv)
	case int:
		return float64(tv)
	case string:
		f, err := strconv.ParseFloat(tv, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
