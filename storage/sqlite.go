package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"estate_hunter/models"
)

type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

func NewSQLiteStore(dbPath string, log *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	store := &SQLiteStore{db: db, log: log, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// SetClock overrides the instant stamped as last_seen_at.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the handle for schema surgery in tests and the migrate command.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		source_url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT,
		price_pln INTEGER,
		location TEXT,
		city TEXT,
		region TEXT,
		auction_date DATETIME,
		images JSON NOT NULL DEFAULT '[]',
		raw_data JSON NOT NULL DEFAULT '{}',
		last_seen_at DATETIME,
		removed_from_source_at DATETIME,
		status TEXT,
		notified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		listings_found INTEGER NOT NULL DEFAULT 0,
		listings_upserted INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT
	);

	-- removed_from_source_at is write-once.
	CREATE TRIGGER IF NOT EXISTS listings_removed_from_source_monotonic
	AFTER UPDATE OF removed_from_source_at ON listings
	WHEN OLD.removed_from_source_at IS NOT NULL
		AND (NEW.removed_from_source_at IS NULL OR NEW.removed_from_source_at != OLD.removed_from_source_at)
	BEGIN
		UPDATE listings SET removed_from_source_at = OLD.removed_from_source_at WHERE id = NEW.id;
	END;

	CREATE INDEX IF NOT EXISTS idx_listings_source_live ON listings(source, removed_from_source_at);
	CREATE INDEX IF NOT EXISTS idx_runs_source_status ON scrape_runs(source, status, finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) UpsertListings(ctx context.Context, listings []models.Listing) (UpsertResult, error) {
	return upsertWithFallback(ctx, s.log, s.now(), listings, s.writeListings)
}

func (s *SQLiteStore) writeListings(ctx context.Context, cols []column, listings []models.Listing) (int, error) {
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		names[i] = c.name
		placeholders[i] = "?"
		if c.name != "source_url" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c.name, c.name))
		}
	}
	updates = append(updates, "updated_at = CURRENT_TIMESTAMP")

	query := fmt.Sprintf(`
		INSERT INTO listings (%s) VALUES (%s)
		ON CONFLICT(source_url) DO UPDATE SET %s`,
		strings.Join(names, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, classifySQLiteError(err)
	}
	defer stmt.Close()

	written := 0
	for i := range listings {
		args := make([]any, len(cols))
		for j, c := range cols {
			args[j] = sqliteValue(c.value(&listings[i]))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, classifySQLiteError(err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

var sqliteMissingColumn = regexp.MustCompile(`(?:no column named|no such column:)\s*(?:\w+\.)?(\w+)`)

func classifySQLiteError(err error) error {
	if m := sqliteMissingColumn.FindStringSubmatch(err.Error()); m != nil && isOptional(m[1]) {
		return &OptionalColumnError{Column: m[1], Err: err}
	}
	return err
}

// sqliteValue converts column values into what mattn/go-sqlite3 binds consistently.
// Times are bound in UTC so the text form orders chronologically.
func sqliteValue(v any) any {
	switch t := v.(type) {
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *int64:
		if t == nil {
			return nil
		}
		return *t
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case []string:
		data, _ := json.Marshal(t)
		return string(data)
	case json.RawMessage:
		return string(t)
	default:
		return v
	}
}

func (s *SQLiteStore) RecordRunStart(ctx context.Context, source models.Source, startedAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (source, started_at, status)
		VALUES (?, ?, ?)`,
		string(source), startedAt.UTC(), string(models.RunStatusRunning))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) RecordRunFinish(ctx context.Context, runID int64, f RunFinish) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET finished_at = ?, listings_found = ?, listings_upserted = ?,
			status = ?, error_message = ?
		WHERE id = ? AND finished_at IS NULL`,
		f.FinishedAt.UTC(), f.Found, f.Upserted, string(f.Status), nilIfEmpty(f.ErrorMessage), runID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *SQLiteStore) RecentSuccessfulRunStarts(ctx context.Context, source models.Source, n int) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT started_at FROM scrape_runs
		WHERE source = ? AND status = ? AND finished_at IS NOT NULL
		ORDER BY finished_at DESC
		LIMIT ?`,
		string(source), string(models.RunStatusSuccess), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		starts = append(starts, t.UTC())
	}
	return starts, rows.Err()
}

func (s *SQLiteStore) ArchiveNotSeenSince(ctx context.Context, source models.Source, cutoff, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE listings SET removed_from_source_at = ?, notified = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE source = ? AND removed_from_source_at IS NULL
			AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		now.UTC(), string(source), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) GetListing(ctx context.Context, sourceURL string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, source_url, title, description, price_pln, location, city, region,
			auction_date, images, raw_data, last_seen_at, removed_from_source_at, status, notified
		FROM listings WHERE source_url = ?`, sourceURL)

	var (
		l                             models.Listing
		source                        string
		description, region, status   sql.NullString
		location, city                sql.NullString
		price                         sql.NullInt64
		auctionDate, lastSeen, remove sql.NullTime
		images, raw                   string
	)
	err := row.Scan(&source, &l.SourceURL, &l.Title, &description, &price, &location, &city, &region,
		&auctionDate, &images, &raw, &lastSeen, &remove, &status, &l.Notified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	l.Source = models.Source(source)
	l.Description = nullString(description)
	l.Region = nullString(region)
	l.Status = nullString(status)
	l.Location = location.String
	l.City = city.String
	if price.Valid {
		l.PriceMinorUnits = &price.Int64
	}
	l.AuctionDate = nullTime(auctionDate)
	l.LastSeenAt = nullTime(lastSeen)
	l.RemovedFromSourceAt = nullTime(remove)
	if err := json.Unmarshal([]byte(images), &l.Images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	l.RawPayload = json.RawMessage(raw)
	return &l, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}
