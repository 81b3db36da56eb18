package transform

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/dictionary"
)

// ErrSurvivalRecordInvalid indicates a survival-characteristic record is
// missing its declared type or its subject association. These invariants are
// load-bearing upstream, so the run aborts rather than guessing.
var ErrSurvivalRecordInvalid = errors.New("error flattening survival_characteristic records")

// FlattenSurvivalCharacteristics collapses survival-characteristic records
// down to one representative per subject. A subject accumulates survival
// snapshots across repeated data loads; only the most medically meaningful
// one reaches the index.
//
// Per subject, records sort descending by (age_at_lkss present, value), so
// records with a known last-known-survival-status age come first, most
// recent first. If any record in the group reports lkss "Dead", the first
// such record in sorted order wins (the most recent mortality record);
// otherwise the first record in sorted order wins. Death outranks a merely
// more recent non-terminal snapshot.
func FlattenSurvivalCharacteristics(records []Record, log zerolog.Logger) ([]Record, error) {
	log.Info().Msg("sorting and flattening survival characteristics")

	bySubject := make(map[string][]Record)
	var subjectOrder []string

	for _, record := range records {
		if stringValue(record["type"]) != dictionary.NodeTypeSurvivalCharacteristic {
			return nil, fmt.Errorf("%w: unexpected type %q", ErrSurvivalRecordInvalid, stringValue(record["type"]))
		}
		subjectStubs := stubsOf(record, "subjects")
		if len(subjectStubs) == 0 {
			return nil, fmt.Errorf("%w: 'subjects' missing or empty", ErrSurvivalRecordInvalid)
		}
		for _, stub := range subjectStubs {
			if stub.SubmitterID == "" {
				return nil, fmt.Errorf("%w: subject submitter_id missing or invalid", ErrSurvivalRecordInvalid)
			}
			if _, seen := bySubject[stub.SubmitterID]; !seen {
				subjectOrder = append(subjectOrder, stub.SubmitterID)
			}
			bySubject[stub.SubmitterID] = append(bySubject[stub.SubmitterID], record)
		}
	}

	flattened := make([]Record, 0, len(subjectOrder))
	for _, subjectID := range subjectOrder {
		group := bySubject[subjectID]
		sort.SliceStable(group, func(i, j int) bool {
			hasI, valI := ageAtLKSS(group[i])
			hasJ, valJ := ageAtLKSS(group[j])
			if hasI != hasJ {
				return hasI
			}
			return valI > valJ
		})

		preferred := group[0]
		for _, record := range group {
			if stringValue(record["lkss"]) == "Dead" {
				preferred = record
				break
			}
		}
		flattened = append(flattened, preferred)
	}

	log.Info().
		Int("input_records", len(records)).
		Int("flattened_records", len(flattened)).
		Msg("sorted and flattened survival characteristics")
	return flattened, nil
}

func ageAtLKSS(record Record) (bool, float64) {
	value, ok := record["age_at_lkss"]
	if !ok || value == nil {
		return false, 0
	}
	return true, asFloat(value)
}
