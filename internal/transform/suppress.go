package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pedcommons/etl/internal/dictionary"
)

// ErrInvalidSuppressionRule indicates a configured rule is missing one of
// its three required keys.
var ErrInvalidSuppressionRule = errors.New("invalid field suppression rule, missing required control field key(s)")

// SuppressionRule hides a field's value unless a control field elsewhere in
// the subject's data satisfies an allow/block condition. Allow takes
// precedence over block when both are specified.
type SuppressionRule struct {
	ControlField string   `json:"control_field"`
	Allowed      []string `json:"allowed_control_field_values"`
	Blocked      []string `json:"blocked_control_field_values"`
}

// SuppressionPolicy maps a rule key to its rule. Keys are either
// "{node_type}.{field}", a bare "{field}", or a wildcarded "*.{field}".
type SuppressionPolicy map[string]SuppressionRule

// ParseSuppressionPolicy decodes and validates the policy configuration
// (typically the SUPPRESSED_FIELDS environment value). Every rule must carry
// all three keys; empty value lists are fine, absent ones are not.
func ParseSuppressionPolicy(raw string) (SuppressionPolicy, error) {
	if strings.TrimSpace(raw) == "" {
		return SuppressionPolicy{}, nil
	}
	var policy SuppressionPolicy
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		return nil, fmt.Errorf("parsing suppression rules: %w", err)
	}
	for key, rule := range policy {
		if rule.ControlField == "" || rule.Allowed == nil || rule.Blocked == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSuppressionRule, key)
		}
	}
	return policy, nil
}

// splitRuleField splits an optionally qualified "{node_type}.{field}" into
// its parts; a bare field name gets the wildcard type.
func splitRuleField(s string) (nodeType, field string) {
	if before, after, found := strings.Cut(s, "."); found {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	return "*", strings.TrimSpace(s)
}

// CanPopulate decides whether field may be populated on a record of
// nodeType. Rule lookup prefers the exact "{node_type}.{field}" key, then
// the bare field name, then the "*.{field}" wildcard; no matching rule means
// population is allowed. Control values are collected from the record itself
// when the control type matches, from the resolved subject aggregate when
// the control lives on the subject, and otherwise from the matching
// pluralized sibling collections on every subject the record references.
func (p SuppressionPolicy) CanPopulate(nodeType, field string, source Record, subjects map[string]Record) bool {
	rule, ok := p.match(nodeType, field)
	if !ok {
		return true
	}

	// Wildcard values short-circuit, allow winning over block.
	if contains(rule.Allowed, "*") {
		return true
	}
	if contains(rule.Blocked, "*") {
		return false
	}

	controlType, controlField := splitRuleField(rule.ControlField)

	controlValues := make(map[string]bool)
	if nodeType == controlType {
		controlValues[strings.TrimSpace(stringValue(source[controlField]))] = true
	}

	controlCollection := Pluralize(controlType)
	for _, stub := range stubsOf(source, "subjects") {
		subject := subjects[stub.SubmitterID]
		if subject == nil {
			continue
		}
		if controlType == dictionary.NodeTypeSubject {
			controlValues[strings.TrimSpace(stringValue(subject[controlField]))] = true
			continue
		}
		for name, value := range subject {
			children, ok := value.([]Record)
			if !ok || (controlType != "*" && name != controlCollection) {
				continue
			}
			for _, child := range children {
				controlValues[strings.TrimSpace(stringValue(child[controlField]))] = true
			}
		}
	}

	if len(rule.Allowed) > 0 {
		return intersects(controlValues, rule.Allowed)
	}
	if len(rule.Blocked) > 0 {
		return !intersects(controlValues, rule.Blocked)
	}
	return true
}

// match returns the rule governing nodeType.field, if any. Each key form is
// resolved to its own rule; configurations carrying several rules are all
// honored.
func (p SuppressionPolicy) match(nodeType, field string) (SuppressionRule, bool) {
	for _, key := range []string{nodeType + "." + field, field, "*." + field} {
		if rule, ok := p[key]; ok {
			return rule, true
		}
	}
	return SuppressionRule{}, false
}

func intersects(values map[string]bool, list []string) bool {
	for _, v := range list {
		if values[v] {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
