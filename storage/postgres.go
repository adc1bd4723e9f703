package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"estate_hunter/models"
)

//go:embed schema/postgres.sql
var postgresSchema string

// pgUndefinedColumn is SQLSTATE undefined_column.
const pgUndefinedColumn = "42703"

type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, connString string, log *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresStore{pool: pool, log: log, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) SetClock(now func() time.Time) {
	s.now = now
}

// Migrate applies the bundled schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) UpsertListings(ctx context.Context, listings []models.Listing) (UpsertResult, error) {
	return upsertWithFallback(ctx, s.log, s.now(), listings, s.writeListings)
}

func postgresUpsertQuery(cols []column) string {
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		names[i] = c.name
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c.name != "source_url" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c.name, c.name))
		}
	}
	updates = append(updates, "updated_at = NOW()")

	return fmt.Sprintf(`
		INSERT INTO listings (%s) VALUES (%s)
		ON CONFLICT (source_url) DO UPDATE SET %s`,
		strings.Join(names, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))
}

func (s *PostgresStore) writeListings(ctx context.Context, cols []column, listings []models.Listing) (int, error) {
	query := postgresUpsertQuery(cols)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range listings {
		args := make([]any, len(cols))
		for j, c := range cols {
			args[j] = postgresValue(c.value(&listings[i]))
		}
		batch.Queue(query, args...)
	}

	br := tx.SendBatch(ctx, batch)
	written := 0
	for range listings {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, classifyPostgresError(err)
		}
		written += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, classifyPostgresError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return written, nil
}

var pgColumnName = regexp.MustCompile(`column "([^"]+)"`)

func classifyPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUndefinedColumn {
		return err
	}
	if m := pgColumnName.FindStringSubmatch(pgErr.Message); m != nil && isOptional(m[1]) {
		return &OptionalColumnError{Column: m[1], Err: err}
	}
	return err
}

func postgresValue(v any) any {
	switch t := v.(type) {
	case json.RawMessage:
		return string(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	default:
		return v
	}
}

func (s *PostgresStore) GetListing(ctx context.Context, sourceURL string) (*models.Listing, error) {
	query := `
		SELECT source, source_url, title, description, price_pln, COALESCE(location, ''), COALESCE(city, ''),
			region, auction_date, images, raw_data, last_seen_at, removed_from_source_at, status, notified
		FROM listings WHERE source_url = $1`

	var (
		l      models.Listing
		source string
		raw    []byte
	)
	err := s.pool.QueryRow(ctx, query, sourceURL).Scan(
		&source, &l.SourceURL, &l.Title, &l.Description, &l.PriceMinorUnits, &l.Location, &l.City,
		&l.Region, &l.AuctionDate, &l.Images, &raw, &l.LastSeenAt, &l.RemovedFromSourceAt, &l.Status, &l.Notified,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Source = models.Source(source)
	l.RawPayload = raw
	return &l, nil
}

// =============================================================================
// Archival
// =============================================================================

func (s *PostgresStore) ArchiveNotSeenSince(ctx context.Context, source models.Source, cutoff, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings SET removed_from_source_at = $1, notified = TRUE, updated_at = NOW()
		WHERE source = $2 AND removed_from_source_at IS NULL
			AND (last_seen_at IS NULL OR last_seen_at < $3)`,
		now.UTC(), string(source), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Scrape Runs
// =============================================================================

func (s *PostgresStore) RecordRunStart(ctx context.Context, source models.Source, startedAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scrape_runs (source, started_at, status)
		VALUES ($1, $2, $3)
		RETURNING id`,
		string(source), startedAt.UTC(), string(models.RunStatusRunning),
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) RecordRunFinish(ctx context.Context, runID int64, f RunFinish) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_runs SET finished_at = $1, listings_found = $2, listings_upserted = $3,
			status = $4, error_message = $5
		WHERE id = $6 AND finished_at IS NULL`,
		f.FinishedAt.UTC(), f.Found, f.Upserted, string(f.Status), nilIfEmpty(f.ErrorMessage), runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *PostgresStore) RecentSuccessfulRunStarts(ctx context.Context, source models.Source, n int) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT started_at FROM scrape_runs
		WHERE source = $1 AND status = $2 AND finished_at IS NOT NULL
		ORDER BY finished_at DESC
		LIMIT $3`,
		string(source), string(models.RunStatusSuccess), n)
	if err != nil {
		return nil, err
	}

	starts, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, err
	}
	for i := range starts {
		starts[i] = starts[i].UTC()
	}
	return starts, nil
}
