package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"estate_hunter/config"
	"estate_hunter/models"
)

const (
	listingsTable   = "listings"
	scrapeRunsTable = "scrape_runs"
	archiveRPC      = "archive_listings_not_seen_since"
)

// SupabaseStore talks to the listings database through PostgREST with the service-role key.
type SupabaseStore struct {
	url        string
	serviceKey string
	client     *http.Client
	log        *zap.Logger
	now        func() time.Time
}

func NewSupabaseStore(cfg *config.SupabaseConfig, client *http.Client, log *zap.Logger) *SupabaseStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SupabaseStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceRoleKey,
		client:     client,
		log:        log,
		now:        time.Now,
	}
}

func (s *SupabaseStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SupabaseStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// postgrestError is the JSON body PostgREST returns on failure.
type postgrestError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *postgrestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error %d: %s", e.Status, e.Message)
}

func (s *SupabaseStore) do(ctx context.Context, method, path string, query url.Values, body any, prefer string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	endpoint := s.url + "/rest/v1/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		pe := &postgrestError{Status: resp.StatusCode}
		if json.Unmarshal(data, pe) != nil || pe.Message == "" {
			pe.Message = string(data)
		}
		return pe
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (s *SupabaseStore) Ping(ctx context.Context) error {
	q := url.Values{"select": {"id"}, "limit": {"1"}}
	return s.do(ctx, http.MethodGet, scrapeRunsTable, q, nil, "", nil)
}

// =============================================================================
// Listings
// =============================================================================

func (s *SupabaseStore) UpsertListings(ctx context.Context, listings []models.Listing) (UpsertResult, error) {
	return upsertWithFallback(ctx, s.log, s.now(), listings, s.writeListings)
}

func (s *SupabaseStore) writeListings(ctx context.Context, cols []column, listings []models.Listing) (int, error) {
	rows := make([]map[string]any, len(listings))
	for i := range listings {
		row := make(map[string]any, len(cols))
		for _, c := range cols {
			row[c.name] = supabaseValue(c.value(&listings[i]))
		}
		rows[i] = row
	}

	q := url.Values{"on_conflict": {"source_url"}, "select": {"source_url"}}
	var written []struct {
		SourceURL string `json:"source_url"`
	}
	err := s.do(ctx, http.MethodPost, listingsTable, q, rows, "resolution=merge-duplicates,return=representation", &written)
	if err != nil {
		return 0, classifyPostgrestError(err)
	}
	return len(written), nil
}

// pgrstColumn extracts the column from PGRST204 "Could not find the 'region' column of 'listings'".
var pgrstColumn = regexp.MustCompile(`'([^']+)' column`)

func classifyPostgrestError(err error) error {
	pe, ok := err.(*postgrestError)
	if !ok {
		return err
	}
	var name string
	switch pe.Code {
	case "PGRST204":
		if m := pgrstColumn.FindStringSubmatch(pe.Message); m != nil {
			name = m[1]
		}
	case pgUndefinedColumn:
		if m := pgColumnName.FindStringSubmatch(pe.Message); m != nil {
			name = m[1]
		}
	}
	if name != "" && isOptional(name) {
		return &OptionalColumnError{Column: name, Err: err}
	}
	return err
}

func supabaseValue(v any) any {
	switch t := v.(type) {
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func (s *SupabaseStore) GetListing(ctx context.Context, sourceURL string) (*models.Listing, error) {
	q := url.Values{
		"select":     {"source,source_url,title,description,price_pln,location,city,region,auction_date,images,raw_data,last_seen_at,removed_from_source_at,status,notified"},
		"source_url": {"eq." + sourceURL},
		"limit":      {"1"},
	}
	var rows []models.Listing
	if err := s.do(ctx, http.MethodGet, listingsTable, q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// =============================================================================
// Archival
// =============================================================================

// ArchiveNotSeenSince prefers the database function, which stamps the database's own now().
// Without it, the same filtered update is issued as a PATCH.
func (s *SupabaseStore) ArchiveNotSeenSince(ctx context.Context, source models.Source, cutoff, now time.Time) (int64, error) {
	body := map[string]any{"p_source": string(source), "p_cutoff": cutoff.UTC().Format(time.RFC3339Nano)}
	var count json.Number
	err := s.do(ctx, http.MethodPost, "rpc/"+archiveRPC, nil, body, "", &count)
	if err == nil {
		if count == "" {
			return 0, nil
		}
		return strconv.ParseInt(count.String(), 10, 64)
	}
	if pe, ok := err.(*postgrestError); !ok || pe.Code != "PGRST202" {
		return 0, err
	}

	s.log.Debug("archive function not installed; using filtered update", zap.String("source", string(source)))
	q := url.Values{
		"source":                 {"eq." + string(source)},
		"removed_from_source_at": {"is.null"},
		"or":                     {fmt.Sprintf("(last_seen_at.is.null,last_seen_at.lt.%s)", cutoff.UTC().Format(time.RFC3339Nano))},
		"select":                 {"id"},
	}
	patch := map[string]any{
		"removed_from_source_at": now.UTC().Format(time.RFC3339Nano),
		"notified":               true,
	}
	var updated []json.RawMessage
	if err := s.do(ctx, http.MethodPatch, listingsTable, q, patch, "return=representation", &updated); err != nil {
		return 0, err
	}
	return int64(len(updated)), nil
}

// =============================================================================
// Scrape Runs
// =============================================================================

func (s *SupabaseStore) RecordRunStart(ctx context.Context, source models.Source, startedAt time.Time) (int64, error) {
	row := map[string]any{
		"source":            string(source),
		"started_at":        startedAt.UTC().Format(time.RFC3339Nano),
		"status":            string(models.RunStatusRunning),
		"listings_found":    0,
		"listings_upserted": 0,
	}
	var created []models.ScrapeRun
	q := url.Values{"select": {"id"}}
	if err := s.do(ctx, http.MethodPost, scrapeRunsTable, q, row, "return=representation", &created); err != nil {
		return 0, err
	}
	if len(created) == 0 {
		return 0, fmt.Errorf("insert scrape run: empty representation")
	}
	return created[0].ID, nil
}

func (s *SupabaseStore) RecordRunFinish(ctx context.Context, runID int64, f RunFinish) error {
	patch := map[string]any{
		"finished_at":       f.FinishedAt.UTC().Format(time.RFC3339Nano),
		"listings_found":    f.Found,
		"listings_upserted": f.Upserted,
		"status":            string(f.Status),
		"error_message":     nilIfEmpty(f.ErrorMessage),
	}
	q := url.Values{
		"id":          {"eq." + strconv.FormatInt(runID, 10)},
		"finished_at": {"is.null"},
		"select":      {"id"},
	}
	var updated []json.RawMessage
	if err := s.do(ctx, http.MethodPatch, scrapeRunsTable, q, patch, "return=representation", &updated); err != nil {
		return err
	}
	if len(updated) == 0 {
		return fmt.Errorf("finish run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *SupabaseStore) RecentSuccessfulRunStarts(ctx context.Context, source models.Source, n int) ([]time.Time, error) {
	q := url.Values{
		"select":      {"started_at"},
		"source":      {"eq." + string(source)},
		"status":      {"eq." + string(models.RunStatusSuccess)},
		"finished_at": {"not.is.null"},
		"order":       {"finished_at.desc"},
		"limit":       {strconv.Itoa(n)},
	}
	var rows []struct {
		StartedAt time.Time `json:"started_at"`
	}
	if err := s.do(ctx, http.MethodGet, scrapeRunsTable, q, nil, "", &rows); err != nil {
		return nil, err
	}
	starts := make([]time.Time, len(rows))
	for i, r := range rows {
		starts[i] = r.StartedAt.UTC()
	}
	return starts, nil
}
