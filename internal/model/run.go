package model

import "time"

// DefaultMaxRunErrors caps how many per-item errors a run keeps verbatim.
const DefaultMaxRunErrors = 50

// RunError is a per-item failure captured during a run.
type RunError struct {
	Source  SourceKind `json:"source"`
	URL     string     `json:"url,omitempty"`
	Kind    string     `json:"kind"`
	Message string     `json:"message"`
}

// RunStats summarizes one scrape run.
type RunStats struct {
	RunID             string     `json:"run_id"`
	Location          string     `json:"location"`
	Category          Category   `json:"category"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Attempted         int        `json:"providers_attempted"`
	Fetched           int        `json:"providers_fetched"`
	New               int        `json:"providers_new"`
	Duplicates        int        `json:"providers_duplicate"`
	Errored           int        `json:"providers_errored"`
	Invalid           int        `json:"providers_invalid"`
	ServicesExtracted int        `json:"services_extracted"`
	WebsitesFound     int        `json:"websites_found"`
	Errors            []RunError `json:"errors,omitempty"`
	MaxErrors         int        `json:"-"`
}

// NewRunStats starts a run.
func NewRunStats(runID, location string, category Category, started time.Time) *RunStats {
	return &RunStats{
		RunID:     runID,
		Location:  location,
		Category:  category,
		StartedAt: started,
		MaxErrors: DefaultMaxRunErrors,
	}
}

// AddError counts an errored item and keeps its details while under the cap.
func (s *RunStats) AddError(e RunError) {
	s.Errored++
	limit := s.MaxErrors
	if limit <= 0 {
		limit = DefaultMaxRunErrors
	}
	if len(s.Errors) < limit {
		s.Errors = append(s.Errors, e)
	}
}

// Complete stamps the completion time.
func (s *RunStats) Complete(at time.Time) {
	s.CompletedAt = &at
}

// Duration returns the run's wall time, or zero while it is still running.
func (s *RunStats) Duration() time.Duration {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
