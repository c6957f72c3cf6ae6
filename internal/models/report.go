package models

import (
	"encoding/json"
	"time"
)

// Summary holds the aggregate figures of a corpus entry.
type Summary struct {
	TotalEnrollments int         `json:"totalEnrollments" yaml:"totalEnrollments"`
	TotalDeductions  json.Number `json:"totalDeductions" yaml:"totalDeductions"`
}

// CorpusEntry is one report row available to the filter engine.
type CorpusEntry struct {
	ClientID          string  `json:"clientId" yaml:"clientId"`
	PlanType          string  `json:"planType" yaml:"planType"`
	CoverageStartDate string  `json:"coverageStartDate" yaml:"coverageStartDate"`
	CoverageEndDate   string  `json:"coverageEndDate" yaml:"coverageEndDate"`
	Summary           Summary `json:"summary" yaml:"summary"`
}

// ReportItem is a matched corpus entry annotated for the requester.
type ReportItem struct {
	CorpusEntry
	ReportType  string    `json:"reportType"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// FiltersApplied echoes the filter values used; optional filters are null when absent.
type FiltersApplied struct {
	ClientID  *string `json:"clientId"`
	PlanType  *string `json:"planType"`
	StartDate string  `json:"startDate"`
	EndDate   string  `json:"endDate"`
}

// ReportResult is the envelope stored on a succeeded job.
type ReportResult struct {
	FiltersApplied FiltersApplied `json:"filtersApplied"`
	ResultCount    int            `json:"resultCount"`
	Reports        []ReportItem   `json:"reports"`
	GeneratedAt    time.Time      `json:"generatedAt"`
}
