package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetcher_RetriesWithBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") == "" || r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("expected browser headers")
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("<html><h1>ok</h1></html>"))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	var results []string
	f := NewFetcher(srv.Client(), 1500*time.Millisecond, nil,
		WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }),
		WithObserver(func(r string) { results = append(results, r) }),
	)

	doc, err := f.Document(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Find("h1").Text(); got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}

	want := []time.Duration{1500 * time.Millisecond, time.Second, 2 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("expected sleeps %v, got %v", want, sleeps)
		}
	}
	if len(results) != 3 || results[2] != "ok" {
		t.Fatalf("unexpected attempt results %v", results)
	}
}

func TestFetcher_GivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), 0, nil, WithSleep(func(time.Duration) {}))
	_, err := f.Get(context.Background(), srv.URL)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if calls != DefaultRetries {
		t.Fatalf("expected %d attempts, got %d", DefaultRetries, calls)
	}
}

func TestFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := srv.Client()
	client.Timeout = 20 * time.Millisecond
	f := NewFetcher(client, 0, nil, WithRetries(1))

	if _, err := f.Get(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected fetch-level timeout")
	}
}
