package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"estate_hunter/config"
	"estate_hunter/models"
	"estate_hunter/scraper"
)

type countingRunner struct {
	mu    sync.Mutex
	calls int
	ran   chan struct{}
}

func (r *countingRunner) RunAll(ctx context.Context, opts scraper.StartOptions) (models.RunState, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	select {
	case r.ran <- struct{}{}:
	default:
	}
	return models.RunState{Phase: models.RunPhaseCompleted}, nil
}

func TestScheduler_Interval(t *testing.T) {
	runner := &countingRunner{ran: make(chan struct{}, 1)}
	s, err := New(config.SchedulerConfig{Interval: 10 * time.Millisecond}, runner, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case <-runner.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an interval run")
	}
}

func TestScheduler_CronUsesTimezone(t *testing.T) {
	s, err := New(config.SchedulerConfig{Cron: "0 8 * * *", Timezone: "Europe/Warsaw"}, &countingRunner{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	next := s.Next()
	if next.IsZero() {
		t.Fatal("expected a scheduled entry")
	}
	if next.Location().String() != "Europe/Warsaw" {
		t.Fatalf("expected Europe/Warsaw, got %s", next.Location())
	}
	if next.Hour() != 8 || next.Minute() != 0 {
		t.Fatalf("expected 08:00 local, got %s", next.Format("15:04"))
	}
}

func TestScheduler_InvalidCron(t *testing.T) {
	s, err := New(config.SchedulerConfig{Cron: "every morning"}, &countingRunner{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected invalid cron error")
	}
}

func TestScheduler_InvalidTimezone(t *testing.T) {
	if _, err := New(config.SchedulerConfig{Timezone: "Mars/Olympus"}, &countingRunner{}, nil); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestScheduler_Disabled(t *testing.T) {
	disabled := false
	s, err := New(config.SchedulerConfig{Enabled: &disabled, Cron: "* * * * *"}, &countingRunner{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if !s.Next().IsZero() {
		t.Fatal("expected no entries when disabled")
	}
}
