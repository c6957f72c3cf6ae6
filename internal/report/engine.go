// Package report implements the report filter engine: date-range overlap plus optional
// equality filters over a corpus.
package report

import (
	"fmt"
	"time"

	"report-jobs/internal/models"
)

// DateLayout is the calendar date format accepted in requests and corpus entries.
const DateLayout = "2006-01-02"

// DateParseError reports a malformed calendar date.
type DateParseError struct {
	Field string
	Value string
	Err   error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("invalid %s %q: expected YYYY-MM-DD", e.Field, e.Value)
}

func (e *DateParseError) Unwrap() error {
	return e.Err
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, &DateParseError{Field: field, Value: value, Err: err}
	}
	return t, nil
}

// Overlaps reports whether [aStart, aEnd] and [bStart, bEnd] intersect, bounds inclusive.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

// Generate filters the corpus for the request. now stamps the envelope and every item;
// apart from those timestamps the output depends only on the request and the corpus.
func Generate(req models.ReportRequest, corpus Corpus, now time.Time) (models.ReportResult, error) {
	reqStart, err := parseDate("startDate", req.StartDate)
	if err != nil {
		return models.ReportResult{}, err
	}
	reqEnd, err := parseDate("endDate", req.EndDate)
	if err != nil {
		return models.ReportResult{}, err
	}

	matched := make([]models.ReportItem, 0)
	for _, entry := range corpus.Entries() {
		if req.ClientID != "" && entry.ClientID != req.ClientID {
			continue
		}
		if req.PlanType != "" && entry.PlanType != req.PlanType {
			continue
		}
		entryStart, err := parseDate("coverageStartDate", entry.CoverageStartDate)
		if err != nil {
			return models.ReportResult{}, err
		}
		entryEnd, err := parseDate("coverageEndDate", entry.CoverageEndDate)
		if err != nil {
			return models.ReportResult{}, err
		}
		if !Overlaps(reqStart, reqEnd, entryStart, entryEnd) {
			continue
		}
		matched = append(matched, models.ReportItem{
			CorpusEntry: entry,
			ReportType:  req.ReportType,
			GeneratedAt: now,
		})
	}

	return models.ReportResult{
		FiltersApplied: models.FiltersApplied{
			ClientID:  optional(req.ClientID),
			PlanType:  optional(req.PlanType),
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
		},
		ResultCount: len(matched),
		Reports:     matched,
		GeneratedAt: now,
	}, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
