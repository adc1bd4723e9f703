package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"estate_hunter/config"
	"estate_hunter/models"
	"estate_hunter/scraper"
)

const defaultTimezone = "Europe/Warsaw"

// Runner runs one full pass synchronously.
type Runner interface {
	RunAll(ctx context.Context, opts scraper.StartOptions) (models.RunState, error)
}

type Scheduler struct {
	cfg    config.SchedulerConfig
	runner Runner
	log    *zap.Logger
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
}

func New(cfg config.SchedulerConfig, runner Runner, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
	}
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		log:    log,
		cron:   cron.New(cron.WithLocation(loc)),
		stopCh: make(chan struct{}),
	}, nil
}

// Start registers the configured schedule. A cron expression wins over an interval; a
// disabled scheduler starts nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Enabled != nil && !*s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}

	if s.cfg.Cron != "" {
		s.log.Info("starting scheduler", zap.String("cron", s.cfg.Cron), zap.String("timezone", s.cron.Location().String()))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.run(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.log.Info("starting scheduler", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.run(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.log.Info("no schedule configured; runs only on demand")
	}

	return nil
}

// Next returns the next cron fire time, or zero when no cron entry is registered.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop halts triggering and waits for a cron-started run to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

func (s *Scheduler) run(ctx context.Context) {
	state, err := s.runner.RunAll(ctx, scraper.StartOptions{})
	switch {
	case errors.Is(err, scraper.ErrRunInProgress):
		s.log.Warn("scheduled run skipped; a run is already in progress", zap.String("run_id", state.ID))
	case err != nil:
		s.log.Error("scheduled run error", zap.Error(err))
	default:
		s.log.Info("scheduled run finished", zap.String("run_id", state.ID), zap.String("phase", string(state.Phase)))
	}
}
