package transform

import (
	"errors"
	"testing"
)

func TestParseSuppressionPolicy(t *testing.T) {
	raw := `{
		"histology.histology": {
			"control_field": "subject.consortium",
			"allowed_control_field_values": ["INSTRuCT"],
			"blocked_control_field_values": []
		}
	}`
	policy, err := ParseSuppressionPolicy(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rule, ok := policy["histology.histology"]
	if !ok {
		t.Fatal("expected rule to be parsed")
	}
	if rule.ControlField != "subject.consortium" || len(rule.Allowed) != 1 {
		t.Errorf("unexpected rule: %+v", rule)
	}
}

func TestParseSuppressionPolicy_Empty(t *testing.T) {
	for _, raw := range []string{"", "  ", "{}"} {
		policy, err := ParseSuppressionPolicy(raw)
		if err != nil {
			t.Fatalf("ParseSuppressionPolicy(%q): unexpected error: %v", raw, err)
		}
		if len(policy) != 0 {
			t.Errorf("ParseSuppressionPolicy(%q): expected empty policy", raw)
		}
	}
}

func TestParseSuppressionPolicy_MissingKeys(t *testing.T) {
	cases := map[string]string{
		"no control field": `{"f": {"allowed_control_field_values": [], "blocked_control_field_values": []}}`,
		"no allowed list":  `{"f": {"control_field": "c", "blocked_control_field_values": []}}`,
		"no blocked list":  `{"f": {"control_field": "c", "allowed_control_field_values": []}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSuppressionPolicy(raw); !errors.Is(err, ErrInvalidSuppressionRule) {
				t.Errorf("expected ErrInvalidSuppressionRule, got %v", err)
			}
		})
	}
}

func subjectRefs(pairs ...[2]string) []any {
	out := make([]any, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Record{"node_id": p[0], "submitter_id": p[1]})
	}
	return out
}

func TestCanPopulate_NoRule(t *testing.T) {
	policy := SuppressionPolicy{}
	if !policy.CanPopulate("histology", "histology", Record{}, nil) {
		t.Error("expected population allowed when no rule matches")
	}
}

func TestCanPopulate_SubjectControlField(t *testing.T) {
	policy := SuppressionPolicy{
		"histology.histology": {
			ControlField: "subject.consortium",
			Allowed:      []string{"INSTRuCT"},
			Blocked:      []string{},
		},
	}
	source := Record{"subjects": subjectRefs([2]string{"n1", "S1"})}

	subjects := map[string]Record{"S1": {"consortium": "INSTRuCT"}}
	if !policy.CanPopulate("histology", "histology", source, subjects) {
		t.Error("expected population allowed for allowed consortium")
	}

	subjects = map[string]Record{"S1": {"consortium": "INRG"}}
	if policy.CanPopulate("histology", "histology", source, subjects) {
		t.Error("expected population suppressed for other consortium")
	}
}

func TestCanPopulate_DirectControlField(t *testing.T) {
	policy := SuppressionPolicy{
		"lab.lab_result": {
			ControlField: "lab.lab_method",
			Allowed:      []string{},
			Blocked:      []string{"Unvalidated"},
		},
	}
	source := Record{"lab_method": "Unvalidated"}
	if policy.CanPopulate("lab", "lab_result", source, nil) {
		t.Error("expected blocked control value on the record itself to suppress")
	}

	source = Record{"lab_method": "Validated"}
	if !policy.CanPopulate("lab", "lab_result", source, nil) {
		t.Error("expected non-blocked control value to allow")
	}
}

func TestCanPopulate_SiblingCollectionControlField(t *testing.T) {
	policy := SuppressionPolicy{
		"histology.histology": {
			ControlField: "survival_characteristic.lkss",
			Allowed:      []string{"Alive"},
			Blocked:      []string{},
		},
	}
	source := Record{"subjects": subjectRefs([2]string{"n1", "S1"})}
	subjects := map[string]Record{
		"S1": {
			"survival_characteristics": []Record{{"lkss": "Alive"}},
		},
	}
	if !policy.CanPopulate("histology", "histology", source, subjects) {
		t.Error("expected sibling collection control value to allow")
	}

	subjects["S1"]["survival_characteristics"] = []Record{{"lkss": "Dead"}}
	if policy.CanPopulate("histology", "histology", source, subjects) {
		t.Error("expected sibling collection control value to suppress")
	}
}

func TestCanPopulate_WildcardValues(t *testing.T) {
	policy := SuppressionPolicy{
		"histology.histology": {
			ControlField: "subject.consortium",
			Allowed:      []string{"*"},
			Blocked:      []string{"*"},
		},
	}
	if !policy.CanPopulate("histology", "histology", Record{}, nil) {
		t.Error("expected wildcard allow to win over wildcard block")
	}

	policy["histology.histology"] = SuppressionRule{
		ControlField: "subject.consortium",
		Allowed:      []string{},
		Blocked:      []string{"*"},
	}
	if policy.CanPopulate("histology", "histology", Record{}, nil) {
		t.Error("expected wildcard block to suppress unconditionally")
	}
}

func TestCanPopulate_KeyPrecedence(t *testing.T) {
	policy := SuppressionPolicy{
		"histology.histology": {
			ControlField: "subject.consortium",
			Allowed:      []string{"*"},
			Blocked:      []string{},
		},
		"histology": {
			ControlField: "subject.consortium",
			Allowed:      []string{},
			Blocked:      []string{"*"},
		},
		"*.tumor_site": {
			ControlField: "subject.consortium",
			Allowed:      []string{},
			Blocked:      []string{"*"},
		},
	}

	// Exact key wins over the bare field key.
	if !policy.CanPopulate("histology", "histology", Record{}, nil) {
		t.Error("expected exact rule key to take precedence")
	}
	// Bare field key applies to other node types.
	if policy.CanPopulate("cytology", "histology", Record{}, nil) {
		t.Error("expected bare field key to match")
	}
	// Wildcard key applies when nothing more specific matches.
	if policy.CanPopulate("tumor_assessment", "tumor_site", Record{}, nil) {
		t.Error("expected wildcard key to match")
	}
}

func TestCanPopulate_UnresolvableSubject(t *testing.T) {
	policy := SuppressionPolicy{
		"histology.histology": {
			ControlField: "subject.consortium",
			Allowed:      []string{"INSTRuCT"},
			Blocked:      []string{},
		},
	}
	source := Record{"subjects": subjectRefs([2]string{"n1", "MISSING"})}
	if policy.CanPopulate("histology", "histology", source, map[string]Record{}) {
		t.Error("expected allow-list rule with no control values to suppress")
	}
}
