// Package mapping derives the search-index field mapping from the data
// dictionary. Subject and person properties merge into the document root
// (the transform flattens them into one document); every other node type
// becomes a nested object keyed by its pluralized collection name.
package mapping

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pedcommons/etl/internal/dictionary"
	"github.com/pedcommons/etl/internal/transform"
)

// ErrNoTimingFieldsMapped indicates the timing node type yielded no mappable
// fields. Every timing-linked type depends on the timing field set, so the
// mapping cannot be produced.
var ErrNoTimingFieldsMapped = errors.New("no timing fields mapped from data dictionary to index")

// skippedFields are dictionary bookkeeping fields that never become
// searchable properties.
var skippedFields = map[string]bool{
	"type":         true,
	"submitter_id": true,
}

// Element returns a single mapping element of the given type: keyword
// elements get an analyzed text subfield, nested elements an empty
// properties object.
func Element(elemType string) (map[string]any, error) {
	elem := map[string]any{"type": elemType}
	switch elemType {
	case "keyword":
		elem["fields"] = map[string]any{
			"analyzed": map[string]any{"type": "text"},
		}
	case "nested":
		elem["properties"] = map[string]any{}
	case "float":
	default:
		return nil, fmt.Errorf("unsupported element type: %s", elemType)
	}
	return elem, nil
}

// elementTypeName classifies a dictionary field for the index: enumerated,
// string and array fields become keyword elements, numeric fields become
// float elements, anything else is not searchable.
func elementTypeName(def dictionary.FieldDef) string {
	if def.HasEnum() {
		return "keyword"
	}
	if !def.HasType() {
		return ""
	}
	if def.IsNumber() {
		return "float"
	}
	if def.IsArray() || def.Type.Contains("string") {
		return "keyword"
	}
	return ""
}

// timingFields builds the timing field set attached to every timing-linked
// node type.
func timingFields(schema dictionary.Schema) (map[string]any, error) {
	timing, ok := schema[dictionary.NodeTypeTiming]
	if !ok || timing.Properties == nil {
		return nil, fmt.Errorf("unable to find timing or timing properties in data dictionary")
	}

	keyword, _ := Element("keyword")
	fields := map[string]any{
		"_timing_id":  keyword,
		"timing_type": cloneElement(keyword),
	}
	mapped := 0
	for field, def := range timing.Properties {
		if skippedFields[field] {
			continue
		}
		name := elementTypeName(def)
		if name == "" {
			continue
		}
		elem, err := Element(name)
		if err != nil {
			return nil, err
		}
		fields[field] = elem
		mapped++
	}
	if mapped == 0 {
		return nil, ErrNoTimingFieldsMapped
	}
	return fields, nil
}

// Generate derives the full index mapping document from the dictionary.
func Generate(schema dictionary.Schema) (map[string]any, error) {
	timingElems, err := timingFields(schema)
	if err != nil {
		return nil, err
	}

	rootProps := map[string]any{}
	doc := map[string]any{
		"mappings": map[string]any{"properties": rootProps},
	}

	for _, nodeType := range orderedNodeTypes(schema) {
		nt := schema[nodeType]

		target := rootProps
		if nodeType != dictionary.NodeTypePerson && nodeType != dictionary.NodeTypeSubject {
			nested, _ := Element("nested")
			rootProps[transform.Pluralize(nodeType)] = nested
			target = nested["properties"].(map[string]any)
		}

		// Every node type carries its internal identifier.
		idElem, _ := Element("keyword")
		target["_"+nodeType+"_id"] = idElem

		if nodeType == dictionary.NodeTypeSubject {
			addSubjectExtras(target)
		}
		if nodeType == dictionary.NodeTypeSurvivalCharacteristic {
			// Index-only property for the obfuscated survival status.
			elem, _ := Element("keyword")
			target["lkss_obfuscated"] = elem
		}

		for field, def := range nt.Properties {
			if skippedFields[field] {
				continue
			}
			name := elementTypeName(def)
			if name == "" {
				continue
			}
			elem, err := Element(name)
			if err != nil {
				return nil, err
			}
			target[field] = elem
		}

		hasTiming, err := schema.HasTimingLink(nodeType)
		if err != nil {
			return nil, err
		}
		if hasTiming {
			for field, elem := range timingElems {
				target[field] = cloneElement(elem.(map[string]any))
			}
		}
	}

	return doc, nil
}

// orderedNodeTypes yields subject and person first, then the remaining
// mappable types alphabetically.
func orderedNodeTypes(schema dictionary.Schema) []string {
	var rest []string
	for nodeType, nt := range schema {
		if nodeType == dictionary.NodeTypeSubject || nodeType == dictionary.NodeTypePerson {
			continue
		}
		if len(nodeType) > 0 && nodeType[0] == '_' || nt.Properties == nil {
			continue
		}
		rest = append(rest, nodeType)
	}
	sort.Strings(rest)

	ordered := make([]string, 0, len(rest)+2)
	for _, first := range []string{dictionary.NodeTypeSubject, dictionary.NodeTypePerson} {
		if nt, ok := schema[first]; ok && nt.Properties != nil {
			ordered = append(ordered, first)
		}
	}
	return append(ordered, rest...)
}

// addSubjectExtras declares the derived and system properties the transform
// writes onto the subject root.
func addSubjectExtras(target map[string]any) {
	for field, elemType := range map[string]string{
		"_molecular_analysis_count": "float",
		"_study_count":              "float",
		"auth_resource_path":        "keyword",
		"biospecimen_status":        "keyword",
		"person_id":                 "keyword",
		"project_id":                "keyword",
		"subject_submitter_id":      "keyword",
		"year_at_disease_phase":     "float",
	} {
		elem, _ := Element(elemType)
		target[field] = elem
	}
}

func cloneElement(elem map[string]any) map[string]any {
	out := make(map[string]any, len(elem))
	for k, v := range elem {
		if m, ok := v.(map[string]any); ok {
			out[k] = cloneElement(m)
			continue
		}
		out[k] = v
	}
	return out
}
