package admin

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// RunSummary is what the last transformation run produced. The transform
// commands write it next to the subject output so a separately running admin
// server can serve it.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Subjects  int       `json:"subjects"`
	Problems  int       `json:"problems"`
}

// SaveRunSummary writes the summary to path.
func SaveRunSummary(path string, summary RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run summary %s: %w", path, err)
	}
	return nil
}

// LoadRunSummary reads the summary written by the last transform run.
func LoadRunSummary(path string) (RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunSummary{}, fmt.Errorf("reading run summary %s: %w", path, err)
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, fmt.Errorf("decoding run summary %s: %w", path, err)
	}
	return summary, nil
}
