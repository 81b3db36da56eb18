package transform

import (
	"strings"

	"github.com/pedcommons/etl/internal/dictionary"
)

// CreateSubject builds the root subject aggregate for a subject source
// record: identity fields, dictionary-ruled base fields, the merged person
// demographics, the derived auth resource path, and the subject-level
// year_at_disease_phase carried over from the subject's timing events.
//
// A subject referencing more than one person, or referencing a person the
// index does not know, goes to the problem sink and yields no aggregate.
func (p *Populator) CreateSubject(source Record, persons map[string]Record, timings map[string][]Record, problems *ProblemSink) (Record, error) {
	subject := Record{
		"_subject_id":          source["id"],
		"subject_submitter_id": source["submitter_id"],
	}

	base, err := p.PopulateBase(dictionary.NodeTypeSubject, source, nil)
	if err != nil {
		return nil, err
	}
	for field, value := range base {
		subject[field] = value
	}

	if hasStubs(source, "persons") {
		personStubs := stubsOf(source, "persons")
		if len(personStubs) > 1 {
			p.log.Warn().
				Str("subject_id", stringValue(subject["_subject_id"])).
				Str("subject_submitter_id", stringValue(subject["subject_submitter_id"])).
				Msg("too many person records associated to subject")
			problems.Add(subject)
			return nil, nil
		}
		for _, stub := range personStubs {
			person := persons[stub.NodeID]
			if person == nil {
				p.log.Warn().
					Str("subject_submitter_id", stringValue(subject["subject_submitter_id"])).
					Str("person_node_id", stub.NodeID).
					Msg("person record not found for subject")
				problems.Add(subject)
				continue
			}
			for field, value := range CloneRecord(person) {
				subject[field] = value
			}
			p.setAuthResourcePath(subject, problems)
		}
	}

	// The portal facets on year_at_disease_phase at the subject level; the
	// value comes from the last timing event carrying it.
	if subjectTimings, ok := timings[stringValue(subject["_subject_id"])]; ok {
		for i := len(subjectTimings) - 1; i >= 0; i-- {
			if value, ok := subjectTimings[i]["year_at_disease_phase"]; ok && truthy(value) {
				subject["year_at_disease_phase"] = value
				break
			}
		}
	}

	return subject, nil
}

// setAuthResourcePath derives the deterministic authorization path from the
// program-project id, the person's business id and the subject's business
// id.
func (p *Populator) setAuthResourcePath(subject Record, problems *ProblemSink) {
	projectID := stringValue(subject["project_id"])
	program, project, found := strings.Cut(projectID, "-")
	if !found {
		p.log.Warn().
			Str("subject_submitter_id", stringValue(subject["subject_submitter_id"])).
			Str("project_id", projectID).
			Msg("invalid project id, unable to derive auth resource path")
		problems.Add(subject)
		return
	}
	subject["auth_resource_path"] = "/programs/" + program +
		"/projects/" + project +
		"/persons/" + stringValue(subject["person_id"]) +
		"/subjects/" + stringValue(subject["subject_submitter_id"])
}
