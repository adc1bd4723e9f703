package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultTimeout   = 20 * time.Second
	DefaultRetries   = 3
	DefaultBackoff   = time.Second

	maxBodySize = 10 << 20
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// AttemptObserver is told the outcome of every attempt: "ok", "retry" or "failed".
type AttemptObserver func(result string)

// Fetcher paces and retries GETs against one site. One adapter pass owns one Fetcher.
type Fetcher struct {
	client  *http.Client
	delay   time.Duration
	retries int
	backoff time.Duration
	log     *zap.Logger
	observe AttemptObserver
	sleep   func(time.Duration)
}

type FetcherOption func(*Fetcher)

func WithRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.retries = n
		}
	}
}

func WithBackoff(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.backoff = d }
}

func WithObserver(obs AttemptObserver) FetcherOption {
	return func(f *Fetcher) { f.observe = obs }
}

func WithSleep(sleep func(time.Duration)) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

func NewFetcher(client *http.Client, delay time.Duration, log *zap.Logger, opts ...FetcherOption) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	f := &Fetcher{
		client:  client,
		delay:   delay,
		retries: DefaultRetries,
		backoff: DefaultBackoff,
		log:     log,
		observe: func(string) {},
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get waits the configured delay, then tries up to retries times with exponential backoff
// (backoff·2^attempt). The delay is not interrupted by ctx; each attempt is bounded by the
// client timeout.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	f.sleep(f.delay)

	var lastErr error
	for attempt := 0; attempt < f.retries; attempt++ {
		body, err := f.once(ctx, url)
		if err == nil {
			f.observe("ok")
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < f.retries-1 {
			f.observe("retry")
			wait := f.backoff * time.Duration(1<<attempt)
			f.log.Warn("fetch attempt failed; retrying",
				zap.String("url", url), zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
			f.sleep(wait)
		}
	}
	f.observe("failed")
	return nil, lastErr
}

func (f *Fetcher) once(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	SetBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

// Document fetches url and parses it as HTML.
func (f *Fetcher) Document(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := f.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func SetBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pl-PL,pl;q=0.9,en;q=0.8")
}
