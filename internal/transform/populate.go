package transform

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/dictionary"
)

// timingCopyFields is the fixed field set flattened from a resolved timing
// event onto the referencing record.
var timingCopyFields = []string{
	"_timing_id",
	"age_at_course_end",
	"age_at_course_start",
	"age_at_disease_phase",
	"course",
	"course_number",
	"disease_phase",
	"disease_phase_number",
	"timing_id",
	"timing_type",
	"year_at_disease_phase",
}

// Populator produces flattened output records from raw source records and
// attaches them to their parent subject aggregates.
type Populator struct {
	schema dictionary.Schema
	rules  *dictionary.Rules
	policy SuppressionPolicy
	log    zerolog.Logger
}

// NewPopulator builds a populator over an immutable schema, rule table and
// suppression policy.
func NewPopulator(schema dictionary.Schema, rules *dictionary.Rules, policy SuppressionPolicy, log zerolog.Logger) *Populator {
	return &Populator{schema: schema, rules: rules, policy: policy, log: log}
}

// PopulateBase populates only the dictionary-ruled fields of a source
// record, without subject linkage. The subject type uses this path; its
// caller layers the identity fields on top.
func (p *Populator) PopulateBase(nodeType string, source Record, subjects map[string]Record) (Record, error) {
	rules := p.rules.Rule(nodeType)
	if rules == nil {
		// Types absent from the rule table are skipped, not an error.
		return nil, nil
	}

	out := Record{}
	for field, rule := range rules {
		value, present := source[field]
		switch {
		case present && value != nil && p.policy.CanPopulate(nodeType, field, source, subjects):
			// Presence check is against nil, not truthiness: zero is a
			// legitimate value.
			coerced, err := coerce(value, rule)
			if err != nil {
				return nil, fmt.Errorf("%s: error setting field %s: %w", nodeType, field, err)
			}
			out[field] = coerced
		case rule.UnsetIfNull:
			// Explicit retraction so a previously loaded value reads as
			// absent after re-transform.
			out[field] = nil
		}
	}

	if hooks, ok := typeRegistry[nodeType]; ok && hooks.postPopulate != nil {
		hooks.postPopulate(out)
	}
	return out, nil
}

// Populate populates a record of nodeType and attaches it to every subject
// aggregate it references. Unresolvable subject references route the record
// to the problem sink without failing the call; timing anomalies are logged
// and the first resolvable timing reference is used.
func (p *Populator) Populate(nodeType string, source Record, subjects map[string]Record, timings map[string][]Record, problems *ProblemSink) (Record, error) {
	out, err := p.PopulateBase(nodeType, source, subjects)
	if err != nil || out == nil {
		return nil, err
	}

	hasTiming, err := p.schema.HasTimingLink(nodeType)
	if err != nil {
		return nil, err
	}

	hooks := typeRegistry[nodeType]
	collection := Pluralize(nodeType)

	for _, subjectStub := range stubsOf(source, "subjects") {
		subject := subjects[subjectStub.SubmitterID]
		if subject == nil {
			p.log.Warn().
				Str("node_type", nodeType).
				Str("subject_submitter_id", subjectStub.SubmitterID).
				Msg("subject not found for record, skipping")
			problems.Add(out)
			continue
		}

		if hasTiming {
			if _, ok := timings[subjectStub.NodeID]; !ok {
				p.log.Warn().
					Str("node_type", nodeType).
					Str("record_submitter_id", stringValue(source["submitter_id"])).
					Str("subject_node_id", subjectStub.NodeID).
					Str("subject_submitter_id", subjectStub.SubmitterID).
					Msg("no timing records found for subject")
			}
		}

		if hasStubs(source, "timings") {
			timingStubs := stubsOf(source, "timings")
			if len(timingStubs) > 1 {
				p.log.Info().
					Str("node_type", nodeType).
					Str("record_submitter_id", stringValue(source["submitter_id"])).
					Int("timing_count", len(timingStubs)).
					Msg("too many timings associated with record")
				problems.Add(source)
			}
			// At most one timing is expected; with several, the first
			// resolvable one still enriches the record.
			for _, timingStub := range timingStubs {
				event := p.findTiming(timingStub.NodeID, timings[subjectStub.NodeID])
				if event != nil {
					setTimingFields(out, event)
					break
				}
			}
		}

		children, _ := subject[collection].([]Record)
		subject[collection] = append(children, out)

		if hooks.onAttach != nil {
			hooks.onAttach(subject)
		}
	}

	return out, nil
}

// findTiming resolves a timing reference against a subject's timing list by
// internal timing id. Zero or multiple matches resolve to nothing, with a
// data-quality log line.
func (p *Populator) findTiming(timingNodeID string, candidates []Record) Record {
	var matches []Record
	for _, candidate := range candidates {
		if stringValue(candidate["_timing_id"]) == timingNodeID {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		p.log.Warn().Str("timing_node_id", timingNodeID).Msg("unable to find timing record")
	default:
		p.log.Info().Str("timing_node_id", timingNodeID).Int("matches", len(matches)).Msg("too many timing matches")
	}
	return nil
}

func setTimingFields(out Record, event Record) {
	for _, field := range timingCopyFields {
		if value, ok := event[field]; ok && truthy(value) {
			out[field] = value
		}
	}
}

func coerce(value any, rule dictionary.FieldRule) (any, error) {
	switch {
	case rule.IsNumber:
		return ToNum(value)
	case rule.IsArray:
		return ToArray(value)
	default:
		return value, nil
	}
}
