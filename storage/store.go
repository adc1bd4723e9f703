// Package storage is the only write path to the listings database.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"estate_hunter/models"
)

// Store persists listings and the scrape_runs audit trail.
type Store interface {
	UpsertListings(ctx context.Context, listings []models.Listing) (UpsertResult, error)
	RecordRunStart(ctx context.Context, source models.Source, startedAt time.Time) (int64, error)
	RecordRunFinish(ctx context.Context, runID int64, f RunFinish) error
	// RecentSuccessfulRunStarts returns started_at of the n most recently finished successful runs,
	// newest first.
	RecentSuccessfulRunStarts(ctx context.Context, source models.Source, n int) ([]time.Time, error)
	// ArchiveNotSeenSince marks live listings of source not seen since cutoff as removed at now.
	ArchiveNotSeenSince(ctx context.Context, source models.Source, cutoff, now time.Time) (int64, error)
	GetListing(ctx context.Context, sourceURL string) (*models.Listing, error)
	Ping(ctx context.Context) error
	Close() error
}

type UpsertResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

type RunFinish struct {
	FinishedAt   time.Time
	Found        int
	Upserted     int
	Status       models.RunStatus
	ErrorMessage string
}

var (
	// ErrOptionalColumnUnsupported is matched by *OptionalColumnError.
	ErrOptionalColumnUnsupported = errors.New("optional column unsupported by schema")
	ErrRunNotFound               = errors.New("scrape run not found")
)

// OptionalColumnError reports that the backend schema lacks an optional listings column.
type OptionalColumnError struct {
	Column string
	Err    error
}

func (e *OptionalColumnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("column %q unsupported: %v", e.Column, e.Err)
	}
	return fmt.Sprintf("column %q unsupported", e.Column)
}

func (e *OptionalColumnError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOptionalColumnUnsupported, e.Err}
	}
	return []error{ErrOptionalColumnUnsupported}
}

// column is one writable listings column. status, notified and removed_from_source_at are
// deliberately absent: the upsert never writes them.
type column struct {
	name     string
	optional bool
	value    func(l *models.Listing) any
}

var listingColumns = []column{
	{name: "source", value: func(l *models.Listing) any { return string(l.Source) }},
	{name: "source_url", value: func(l *models.Listing) any { return l.SourceURL }},
	{name: "title", value: func(l *models.Listing) any { return l.Title }},
	{name: "description", value: func(l *models.Listing) any { return l.Description }},
	{name: "price_pln", value: func(l *models.Listing) any { return l.PriceMinorUnits }},
	{name: "location", value: func(l *models.Listing) any { return l.Location }},
	{name: "city", value: func(l *models.Listing) any { return l.City }},
	{name: "region", optional: true, value: func(l *models.Listing) any { return l.Region }},
	{name: "auction_date", value: func(l *models.Listing) any { return l.AuctionDate }},
	{name: "images", value: func(l *models.Listing) any { return imagesOrEmpty(l.Images) }},
	{name: "raw_data", value: func(l *models.Listing) any { return payloadOrEmpty(l.RawPayload) }},
	{name: "last_seen_at", optional: true, value: func(l *models.Listing) any { return l.LastSeenAt }},
}

func isOptional(name string) bool {
	for _, c := range listingColumns {
		if c.name == name {
			return c.optional
		}
	}
	return false
}

func withoutColumn(cols []column, name string) []column {
	out := make([]column, 0, len(cols))
	for _, c := range cols {
		if c.name != name {
			out = append(out, c)
		}
	}
	return out
}

// writeFunc performs one batch write with the given column set and returns the rows written.
type writeFunc func(ctx context.Context, cols []column, listings []models.Listing) (int, error)

// upsertWithFallback stamps last_seen_at and runs write, retrying once per optional column the
// backend reports missing. Any other error fails the whole batch.
func upsertWithFallback(ctx context.Context, log *zap.Logger, now time.Time, listings []models.Listing, write writeFunc) (UpsertResult, error) {
	res := UpsertResult{Attempted: len(listings)}
	if len(listings) == 0 {
		return res, nil
	}

	rows := make([]models.Listing, len(listings))
	seen := now.UTC()
	for i := range listings {
		rows[i] = listings[i]
		rows[i].LastSeenAt = &seen
	}
	rows = dedupeBySourceURL(rows)

	cols := listingColumns
	stripped := make(map[string]bool)
	for {
		n, err := write(ctx, cols, rows)
		if err == nil {
			res.Succeeded = n
			return res, nil
		}

		var oce *OptionalColumnError
		if !errors.As(err, &oce) || !isOptional(oce.Column) || stripped[oce.Column] {
			return res, fmt.Errorf("upsert listings: %w", err)
		}
		stripped[oce.Column] = true
		cols = withoutColumn(cols, oce.Column)
		log.Warn("listings table has no optional column; retrying upsert without it",
			zap.String("column", oce.Column))
	}
}

// dedupeBySourceURL keeps the last occurrence of each source_url; one statement may not
// touch the same conflict key twice.
func dedupeBySourceURL(rows []models.Listing) []models.Listing {
	index := make(map[string]int, len(rows))
	out := make([]models.Listing, 0, len(rows))
	for _, r := range rows {
		if i, ok := index[r.SourceURL]; ok {
			out[i] = r
			continue
		}
		index[r.SourceURL] = len(out)
		out = append(out, r)
	}
	return out
}

func imagesOrEmpty(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}

func payloadOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
