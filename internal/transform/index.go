package transform

import (
	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/dictionary"
)

// timingOptionalFields are the timing-event fields copied from the export
// when present; numeric conversion follows the dictionary rule table.
var timingOptionalFields = []string{
	"age_at_course_end",
	"age_at_course_start",
	"age_at_disease_phase",
	"course",
	"course_number",
	"disease_phase",
	"disease_phase_number",
	"timing_type",
	"year_at_disease_phase",
}

// personOptionalFields are the demographic fields merged verbatim into the
// parent subject.
var personOptionalFields = []string{"ethnicity", "race", "sex"}

// IndexTimings builds the subject-internal-id -> timing-event index from the
// full export. A timing referenced by N subjects yields N independent deep
// copies: once handed to a subject, a timing event is owned by that subject
// alone and may be mutated without corrupting another's.
func IndexTimings(data map[string]Project, rules *dictionary.Rules, log zerolog.Logger) map[string][]Record {
	log.Info().Msg("loading timing records")
	timingsBySubjectID := make(map[string][]Record)

	for _, project := range data {
		for _, record := range project[dictionary.NodeTypeTiming] {
			timing := Record{
				"_timing_id": record["id"],
				"timing_id":  record["submitter_id"],
			}
			copyOptionalFields(timing, record, timingOptionalFields, rules)

			for _, stub := range stubsOf(record, "subjects") {
				timingsBySubjectID[stub.NodeID] = append(timingsBySubjectID[stub.NodeID], CloneRecord(timing))
			}
		}
	}
	return timingsBySubjectID
}

// IndexPersons builds the person-internal-id -> person index. One record per
// id is expected; a second occurrence overwrites the first with a warning.
func IndexPersons(data map[string]Project, rules *dictionary.Rules, log zerolog.Logger) map[string]Record {
	log.Info().Msg("loading person records")
	personsByPersonID := make(map[string]Record)

	for _, project := range data {
		for _, record := range project[dictionary.NodeTypePerson] {
			person := Record{
				"_person_id": record["id"],
				"person_id":  record["submitter_id"],
			}
			copyOptionalFields(person, record, personOptionalFields, rules)

			id := stringValue(person["_person_id"])
			if _, seen := personsByPersonID[id]; seen {
				log.Warn().Str("person_id", id).Msg("duplicate person id in export, keeping last record")
			}
			personsByPersonID[id] = person
		}
	}
	return personsByPersonID
}

func copyOptionalFields(dst, src Record, fields []string, rules *dictionary.Rules) {
	for _, field := range fields {
		value, ok := src[field]
		if !ok || !truthy(value) {
			continue
		}
		if rules.NumberFields[field] {
			num, err := ToNum(value)
			if err == nil {
				dst[field] = num
				continue
			}
		}
		dst[field] = value
	}
}
