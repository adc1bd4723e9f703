package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"estate_hunter/filter"
	"estate_hunter/metrics"
	"estate_hunter/models"
	"estate_hunter/normalize"
	"estate_hunter/storage"
)

// Snapshotter keeps a copy of a pass's raw records.
type Snapshotter interface {
	Put(ctx context.Context, source models.Source, at time.Time, records []models.RawRecord) (string, error)
}

// ListingService runs raw records through normalization and the quality gate into the store.
type ListingService struct {
	store     storage.Store
	snapshots Snapshotter
	phrases   []string
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewListingService creates a new ListingService. snapshots and m may be nil.
func NewListingService(store storage.Store, snapshots Snapshotter, phrases []string, m *metrics.Metrics, log *zap.Logger) *ListingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ListingService{
		store:     store,
		snapshots: snapshots,
		phrases:   phrases,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// SetClock overrides the reference time for the date-window filter.
func (s *ListingService) SetClock(now func() time.Time) {
	s.now = now
}

// ProcessResult contains the outcome of one batch
type ProcessResult struct {
	Found       int
	Accepted    int
	Rejected    map[string]int
	Upserted    int
	Sample      *models.Listing
	SnapshotKey string
}

// Process normalizes, filters and upserts records of one source. A dry run stops before
// any write and keeps the first accepted listing as a sample.
func (s *ListingService) Process(ctx context.Context, source models.Source, records []models.RawRecord, opts filter.Options, dryRun bool) (ProcessResult, error) {
	log := s.log.With(zap.String("source", string(source)))
	res := ProcessResult{Found: len(records), Rejected: make(map[string]int)}
	s.count(func(m *metrics.Metrics) { m.ListingsFound.WithLabelValues(string(source)).Add(float64(len(records))) })

	if !dryRun && s.snapshots != nil && len(records) > 0 {
		key, err := s.snapshots.Put(ctx, source, s.now(), records)
		if err != nil {
			log.Warn("raw snapshot failed", zap.Error(err))
		} else {
			res.SnapshotKey = key
		}
	}

	quality := filter.New(s.phrases, opts).WithClock(s.now)
	listings := make([]models.Listing, 0, len(records))
	for _, raw := range records {
		if raw.Source == "" {
			raw.Source = source
		}
		l, ok := normalize.Listing(raw)
		if !ok {
			s.reject(&res, source, "invalid")
			log.Debug("record dropped by normalizer", zap.String("url", raw.URL))
			continue
		}
		if reason := quality.Check(&l); reason != filter.ReasonNone {
			s.reject(&res, source, string(reason))
			log.Debug("record dropped by filter", zap.String("url", l.SourceURL), zap.String("reason", string(reason)))
			continue
		}
		listings = append(listings, l)
	}
	res.Accepted = len(listings)

	if dryRun {
		if len(listings) > 0 {
			sample := listings[0]
			res.Sample = &sample
			log.Info("[dry-run] sample",
				zap.String("title", sample.Title), zap.String("source_url", sample.SourceURL))
		}
		log.Info("[dry-run] store skipped", zap.Int("found", res.Found), zap.Int("accepted", res.Accepted))
		return res, nil
	}

	if len(listings) == 0 {
		return res, nil
	}
	up, err := s.store.UpsertListings(ctx, listings)
	if err != nil {
		return res, fmt.Errorf("upsert %s listings: %w", source, err)
	}
	res.Upserted = up.Succeeded
	s.count(func(m *metrics.Metrics) { m.ListingsUpserted.WithLabelValues(string(source)).Add(float64(up.Succeeded)) })
	return res, nil
}

func (s *ListingService) reject(res *ProcessResult, source models.Source, reason string) {
	res.Rejected[reason]++
	s.count(func(m *metrics.Metrics) { m.ListingsRejected.WithLabelValues(string(source), reason).Inc() })
}

func (s *ListingService) count(fn func(m *metrics.Metrics)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}
