package transform

// ProblemSink accumulates records that could not be fully linked into the
// subject aggregate set. Problems are diagnostics, not failures: population
// continues, and the caller decides whether an elevated count gates a
// release.
type ProblemSink struct {
	records []Record
}

// Add appends a problematic record.
func (s *ProblemSink) Add(r Record) {
	s.records = append(s.records, r)
}

// Records returns the accumulated problem records.
func (s *ProblemSink) Records() []Record {
	return s.records
}

// Len returns the number of problem records.
func (s *ProblemSink) Len() int {
	return len(s.records)
}
