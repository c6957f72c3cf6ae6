package report

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"report-jobs/internal/models"
)

// Corpus supplies the fixed set of entries a report is generated from.
type Corpus interface {
	Entries() []models.CorpusEntry
}

// StaticCorpus is an in-memory corpus.
type StaticCorpus []models.CorpusEntry

// Entries returns a copy so callers cannot reorder the corpus.
func (c StaticCorpus) Entries() []models.CorpusEntry {
	out := make([]models.CorpusEntry, len(c))
	copy(out, c)
	return out
}

// DefaultCorpus returns the built-in benefits dataset.
func DefaultCorpus() StaticCorpus {
	return StaticCorpus{
		{
			ClientID: "05389", PlanType: "HSA",
			CoverageStartDate: "2025-01-01", CoverageEndDate: "2025-06-01",
			Summary: models.Summary{TotalEnrollments: 123, TotalDeductions: "45678.90"},
		},
		{
			ClientID: "05184", PlanType: "FSA",
			CoverageStartDate: "2025-01-01", CoverageEndDate: "2025-06-01",
			Summary: models.Summary{TotalEnrollments: 1320, TotalDeductions: "113245.90"},
		},
		{
			ClientID: "05667", PlanType: "HDV",
			CoverageStartDate: "2025-06-01", CoverageEndDate: "2025-12-31",
			Summary: models.Summary{TotalEnrollments: 14, TotalDeductions: "23693.90"},
		},
		{
			ClientID: "05384", PlanType: "HRA",
			CoverageStartDate: "2025-06-01", CoverageEndDate: "2025-12-31",
			Summary: models.Summary{TotalEnrollments: 3041, TotalDeductions: "1432874.90"},
		},
	}
}

type corpusFile struct {
	Entries []models.CorpusEntry `yaml:"entries"`
}

// LoadCorpusFile reads a YAML corpus of the form `entries: [...]`.
// Coverage dates are validated up front so a bad fixture fails at startup rather than per job.
func LoadCorpusFile(path string) (StaticCorpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse corpus file: %w", err)
	}
	for i, e := range f.Entries {
		if _, err := parseDate("coverageStartDate", e.CoverageStartDate); err != nil {
			return nil, fmt.Errorf("corpus entry %d: %w", i, err)
		}
		if _, err := parseDate("coverageEndDate", e.CoverageEndDate); err != nil {
			return nil, fmt.Errorf("corpus entry %d: %w", i, err)
		}
	}
	return StaticCorpus(f.Entries), nil
}
