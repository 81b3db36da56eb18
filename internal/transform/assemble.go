package transform

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/dictionary"
)

// ErrDuplicateSubject indicates two distinct subject source records share a
// submitter id. The aggregate map can only hold one of them; the run aborts.
var ErrDuplicateSubject = errors.New("duplicate subject submitter id found")

// progressInterval is the per-node-type record count between progress log
// lines.
const progressInterval = 1000

// Result is the outcome of a transform run: the finalized subject documents
// plus every record that could not be fully linked.
type Result struct {
	RunID    string
	Subjects []Record
	Problems []Record
}

// Assembler drives the full transform: association indexes first, then every
// configured node type in dependency order, subjects before dependents.
type Assembler struct {
	schema dictionary.Schema
	rules  *dictionary.Rules
	policy SuppressionPolicy
	log    zerolog.Logger
}

// NewAssembler builds an assembler over an immutable schema, rule table and
// suppression policy.
func NewAssembler(schema dictionary.Schema, rules *dictionary.Rules, policy SuppressionPolicy, log zerolog.Logger) *Assembler {
	return &Assembler{schema: schema, rules: rules, policy: policy, log: log}
}

// Generate transforms the raw export of every project into the subject
// document set. Node types are processed in the order given; the person type
// is excluded from the iteration because persons are consumed through the
// person index during subject creation, never populated independently.
// Subjects are returned in insertion order and are complete only once every
// node type has been processed.
func (a *Assembler) Generate(data map[string]Project, nodeTypes []string) (*Result, error) {
	runID := uuid.NewString()
	log := a.log.With().Str("run_id", runID).Logger()

	types := make([]string, 0, len(nodeTypes))
	for _, t := range nodeTypes {
		if t != dictionary.NodeTypePerson {
			types = append(types, t)
		}
	}

	problems := &ProblemSink{}
	subjects := make(map[string]Record)
	var subjectOrder []string

	timings := IndexTimings(data, a.rules, log)
	persons := IndexPersons(data, a.rules, log)
	populator := NewPopulator(a.schema, a.rules, a.policy, log)

	// Projects are visited in name order so repeated runs over the same
	// export yield the same document order.
	projectNames := make([]string, 0, len(data))
	for name := range data {
		projectNames = append(projectNames, name)
	}
	sort.Strings(projectNames)

	for _, projectName := range projectNames {
		projectRecords := data[projectName]
		log.Info().Str("project", projectName).Msg("generating subject record set")

		for _, nodeType := range types {
			log.Info().Str("node_type", nodeType).Msg("processing node type")

			records, ok := projectRecords[nodeType]
			if !ok {
				log.Warn().Str("node_type", nodeType).Msg("node type not in record set, skipping")
				continue
			}

			if typeRegistry[nodeType].flattenOnePerSubject {
				flat, err := FlattenSurvivalCharacteristics(records, log)
				if err != nil {
					return nil, err
				}
				records = flat
			}

			for i, record := range records {
				if (i+1)%progressInterval == 0 {
					log.Info().Int("records", i+1).Str("node_type", nodeType).Msg("records processed")
				}

				if nodeType == dictionary.NodeTypeSubject {
					subject, err := populator.CreateSubject(record, persons, timings, problems)
					if err != nil {
						return nil, err
					}
					if subject == nil {
						continue
					}
					submitterID := stringValue(subject["subject_submitter_id"])
					if _, exists := subjects[submitterID]; exists {
						return nil, fmt.Errorf("%w: %q", ErrDuplicateSubject, submitterID)
					}
					subjects[submitterID] = subject
					subjectOrder = append(subjectOrder, submitterID)
					continue
				}

				if !hasStubs(record, "subjects") {
					continue
				}
				if len(stubsOf(record, "subjects")) > 1 {
					log.Info().Str("node_type", nodeType).Msg("too many subjects associated to record")
					problems.Add(record)
					continue
				}
				if _, err := populator.Populate(nodeType, record, subjects, timings, problems); err != nil {
					return nil, err
				}
			}
		}
	}

	result := &Result{
		RunID:    runID,
		Subjects: make([]Record, 0, len(subjectOrder)),
		Problems: problems.Records(),
	}
	for _, submitterID := range subjectOrder {
		result.Subjects = append(result.Subjects, subjects[submitterID])
	}

	log.Info().Int("subjects", len(result.Subjects)).Msg("subject records generated")
	log.Info().Int("problems", len(result.Problems)).Msg("problem records found")
	return result, nil
}
