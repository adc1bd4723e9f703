package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"estate_hunter/metrics"
	"estate_hunter/models"
	"estate_hunter/storage"
)

const DefaultArchiveAfterRuns = 5

// ArchiveService marks listings that a source stopped publishing.
type ArchiveService struct {
	store   storage.Store
	minRuns int
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewArchiveService(store storage.Store, minRuns int, m *metrics.Metrics, log *zap.Logger) *ArchiveService {
	if minRuns <= 0 {
		minRuns = DefaultArchiveAfterRuns
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ArchiveService{store: store, minRuns: minRuns, metrics: m, log: log, now: time.Now}
}

func (s *ArchiveService) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep archives live listings of source not seen since the start of its minRuns-th most
// recent successful run. Young sources with fewer successful runs are left alone.
func (s *ArchiveService) Sweep(ctx context.Context, source models.Source) (int64, error) {
	if !source.Archivable() {
		return 0, nil
	}
	log := s.log.With(zap.String("source", string(source)))

	starts, err := s.store.RecentSuccessfulRunStarts(ctx, source, s.minRuns)
	if err != nil {
		return 0, fmt.Errorf("recent runs: %w", err)
	}
	if len(starts) < s.minRuns {
		log.Debug("archival skipped", zap.Int("successful_runs", len(starts)), zap.Int("required", s.minRuns))
		return 0, nil
	}

	cutoff := starts[s.minRuns-1]
	n, err := s.store.ArchiveNotSeenSince(ctx, source, cutoff, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("archive: %w", err)
	}
	if n > 0 {
		log.Info("listings archived", zap.Int64("count", n), zap.Time("cutoff", cutoff))
		if s.metrics != nil {
			s.metrics.ListingsArchived.WithLabelValues(string(source)).Add(float64(n))
		}
	}
	return n, nil
}
