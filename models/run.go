package models

import "time"

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// ScrapeRun is the audit row written once per (source, invocation).
type ScrapeRun struct {
	ID               int64      `json:"id" db:"id"`
	Source           Source     `json:"source" db:"source"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time `json:"finished_at" db:"finished_at"`
	ListingsFound    int        `json:"listings_found" db:"listings_found"`
	ListingsUpserted int        `json:"listings_upserted" db:"listings_upserted"`
	Status           RunStatus  `json:"status" db:"status"`
	ErrorMessage     *string    `json:"error_message" db:"error_message"`
}

type RunPhase string

const (
	RunPhaseIdle      RunPhase = "idle"
	RunPhaseRunning   RunPhase = "running"
	RunPhaseCompleted RunPhase = "completed"
	RunPhaseError     RunPhase = "error"
)

// SourceResult summarizes one source pass inside a run.
type SourceResult struct {
	Source           Source    `json:"source"`
	ListingsFound    int       `json:"listings_found"`
	ListingsUpserted int       `json:"listings_upserted"`
	Status           RunStatus `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Archived         int64     `json:"archived,omitempty"`
	DryRun           bool      `json:"dry_run,omitempty"`
}

// RunState describes the current or most recent orchestrated run.
type RunState struct {
	ID         string         `json:"id,omitempty"`
	Phase      RunPhase       `json:"phase"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Results    []SourceResult `json:"results"`
	Error      string         `json:"error,omitempty"`
}

// Clone returns a copy that shares no mutable state with s.
func (s RunState) Clone() RunState {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	out.Results = make([]SourceResult, len(s.Results))
	copy(out.Results, s.Results)
	return out
}
