package scraper

import (
	"sync"
	"time"

	"estate_hunter/models"
)

// runState is the single process-wide run slot. Every read hands out a copy.
type runState struct {
	mu  sync.Mutex
	cur models.RunState
}

func newRunState() *runState {
	return &runState{cur: models.RunState{Phase: models.RunPhaseIdle, Results: []models.SourceResult{}}}
}

// begin moves any non-running phase to running. It reports false, with the in-flight
// state, when a run is already going.
func (s *runState) begin(id string, at time.Time) (models.RunState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Phase == models.RunPhaseRunning {
		return s.cur.Clone(), false
	}
	s.cur = models.RunState{
		ID:        id,
		Phase:     models.RunPhaseRunning,
		StartedAt: &at,
		Results:   []models.SourceResult{},
	}
	return s.cur.Clone(), true
}

func (s *runState) record(r models.SourceResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Results = append(s.cur.Results, r)
}

func (s *runState) complete(at time.Time) models.RunState {
	return s.finish(models.RunPhaseCompleted, "", at)
}

func (s *runState) fail(msg string, at time.Time) models.RunState {
	return s.finish(models.RunPhaseError, msg, at)
}

func (s *runState) finish(phase models.RunPhase, msg string, at time.Time) models.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Phase = phase
	s.cur.Error = msg
	s.cur.FinishedAt = &at
	return s.cur.Clone()
}

func (s *runState) snapshot() models.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Clone()
}
