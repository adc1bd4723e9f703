package scraper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"go.uber.org/zap"

	"estate_hunter/httputil"
	"estate_hunter/metrics"
	"estate_hunter/models"
)

var (
	ErrUnknownSource       = errors.New("unknown source")
	ErrApifyNotConfigured  = errors.New("apify token not configured")
	ErrDatasetNotSpecified = errors.New("dataset id not specified")
)

// Handler produces the raw records of one source pass. The sequence is lazy and
// single-use: ranging over it again re-fetches from the first page.
type Handler interface {
	ID() models.Source
	Records(ctx context.Context) iter.Seq2[models.RawRecord, error]
}

// SourceOptions is the per-pass tuning resolved from configuration.
type SourceOptions struct {
	BaseURL          string
	MaxPages         int
	Delay            time.Duration
	RegionFilter     string
	DateWindowDays   int
	ErrorPagePhrases []string

	// DatasetID pins a dataset pass to one remote dataset; empty reads the actor's last run.
	DatasetID string
}

// Deps are the shared collaborators handlers are built from.
type Deps struct {
	Clients *httputil.Clients
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Retries int
	Apify   *ApifyClient
	Browser BrowserLauncher
	Sleep   func(time.Duration)
}

// NewHandler builds the adapter for src. The source set is closed.
func NewHandler(src models.Source, opts SourceOptions, deps Deps) (Handler, error) {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	log := deps.Log.With(zap.String("source", string(src)))

	switch src {
	case models.SourceKomornik:
		return NewKomornikHandler(opts, deps.fetcher(opts.Delay, log), log), nil
	case models.SourceELicytacje:
		return NewELicytacjeHandler(opts, deps.fetcher(opts.Delay, log), log), nil
	case models.SourceAMW:
		return NewAMWHandler(opts, deps.fetcher(opts.Delay, log), log), nil
	case models.SourceOLX:
		return NewClassifiedHandler(olxSite, opts, deps.fetcher(opts.Delay, log), log), nil
	case models.SourceGratka:
		return NewClassifiedHandler(gratkaSite, opts, deps.fetcher(opts.Delay, log), log), nil
	case models.SourceOtodom:
		launch := deps.Browser
		if launch == nil {
			launch = LaunchPlaywright
		}
		return NewOtodomHandler(opts, launch, deps.sleep(), log), nil
	case models.SourceFacebook:
		if !deps.Apify.Configured() {
			return nil, ErrApifyNotConfigured
		}
		return NewDatasetHandler(src, deps.Apify, opts.DatasetID, log)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, src)
}

func (d Deps) fetcher(delay time.Duration, log *zap.Logger) *httputil.Fetcher {
	var client *http.Client
	if d.Clients != nil {
		client = d.Clients.Scraping
	}
	opts := []httputil.FetcherOption{httputil.WithRetries(d.Retries)}
	if d.Metrics != nil {
		attempts := d.Metrics.FetchAttempts
		opts = append(opts, httputil.WithObserver(func(result string) {
			attempts.WithLabelValues(result).Inc()
		}))
	}
	if d.Sleep != nil {
		opts = append(opts, httputil.WithSleep(d.Sleep))
	}
	return httputil.NewFetcher(client, delay, log, opts...)
}

func (d Deps) sleep() func(time.Duration) {
	if d.Sleep != nil {
		return d.Sleep
	}
	return time.Sleep
}
