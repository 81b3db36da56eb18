package dictionary

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteRuleSet indicates the rule scan left a node type with no
// usable fields, which means the dictionary and the override tables have
// drifted apart.
var ErrIncompleteRuleSet = errors.New("missing/incomplete node type field specification in data dictionary")

// FieldRule tells the populator how to treat one field of one node type.
type FieldRule struct {
	IsNumber    bool
	IsArray     bool
	UnsetIfNull bool
}

// Rules is the coercion rule table derived from the dictionary: node type ->
// field name -> rule, plus flat lookup sets for the field names that are
// number- or array-typed anywhere in the dictionary (the association
// indexers consult these).
type Rules struct {
	Fields       map[string]map[string]FieldRule
	NumberFields map[string]bool
	ArrayFields  map[string]bool
}

// Rule returns the rule table for a node type, or nil if the type is not
// modeled.
func (r *Rules) Rule(nodeType string) map[string]FieldRule {
	return r.Fields[nodeType]
}

// RulesConfig carries the hand-maintained tables layered over the
// dictionary scan.
type RulesConfig struct {
	// UnsetIfNull lists, per node type (or "*" wildcard), the fields that
	// must be written as explicit nulls when absent from the source so a
	// previously loaded value reads as retracted on re-transform.
	UnsetIfNull map[string][]string

	// RefFields lists $ref-typed fields that need populating even though
	// the dictionary declares them as neither enum, number, array nor
	// string (e.g. subject.project_id).
	RefFields map[string][]string

	// Overrides are explicit rule entries that the scan must never
	// clobber.
	Overrides map[string]map[string]FieldRule
}

// DefaultRulesConfig returns the production override tables.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		UnsetIfNull: map[string][]string{
			NodeTypeSurvivalCharacteristic: {"age_at_lkss"},
			NodeTypeTumorAssessment: {
				"longest_diam_dim1",
				"longest_diam_dim2",
				"longest_diam_dim3",
			},
		},
		RefFields: map[string][]string{
			NodeTypeSubject: {"project_id"},
		},
	}
}

// Node type names the engine treats specially.
const (
	NodeTypeBiospecimen            = "biospecimen"
	NodeTypePerson                 = "person"
	NodeTypeSubject                = "subject"
	NodeTypeSurvivalCharacteristic = "survival_characteristic"
	NodeTypeTiming                 = "timing"
	NodeTypeTumorAssessment        = "tumor_assessment"
)

func (c RulesConfig) unsetIfNull(nodeType, field string) bool {
	return contains(c.UnsetIfNull["*"], field) || contains(c.UnsetIfNull[nodeType], field)
}

func (c RulesConfig) isRefField(nodeType, field string) bool {
	return contains(c.RefFields[nodeType], field)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// BuildRules scans the dictionary and classifies every field of every node
// type. Internal pseudo-types (leading underscore) and types without a
// properties map are skipped. Enum and ref fields are forced to opaque
// strings regardless of their nominal type; fields with neither enum nor
// type get no entry and are therefore never populated.
func BuildRules(schema Schema, cfg RulesConfig) (*Rules, error) {
	rules := &Rules{
		Fields:       make(map[string]map[string]FieldRule),
		NumberFields: make(map[string]bool),
		ArrayFields:  make(map[string]bool),
	}

	for nodeType, nt := range schema {
		if strings.HasPrefix(nodeType, "_") || nt.Properties == nil {
			continue
		}
		fields, ok := rules.Fields[nodeType]
		if !ok {
			fields = make(map[string]FieldRule)
			rules.Fields[nodeType] = fields
		}

		for field, def := range nt.Properties {
			if def.IsNumber() {
				rules.NumberFields[field] = true
			}
			if def.IsArray() {
				rules.ArrayFields[field] = true
			}

			// Explicit overrides are never clobbered by the scan.
			if override, ok := cfg.Overrides[nodeType][field]; ok {
				fields[field] = override
				continue
			}

			switch {
			case def.HasEnum() || cfg.isRefField(nodeType, field):
				// Enums and references are transported as opaque
				// strings, never parsed.
				fields[field] = FieldRule{}
			case def.HasType():
				fields[field] = FieldRule{
					IsNumber:    def.IsNumber(),
					IsArray:     def.IsArray(),
					UnsetIfNull: cfg.unsetIfNull(nodeType, field),
				}
			}
		}
	}

	for nodeType, fields := range rules.Fields {
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteRuleSet, nodeType)
		}
	}
	return rules, nil
}
