package scraper

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakePages serves canned HTML by URL.
type fakePages struct {
	html   map[string]string
	calls  []string
	closed bool
}

func (f *fakePages) HTML(url string, settle bool) (string, error) {
	f.calls = append(f.calls, url)
	html, ok := f.html[url]
	if !ok {
		return "", errors.New("navigation failed")
	}
	return html, nil
}

func (f *fakePages) Close() error {
	f.closed = true
	return nil
}

func TestParseOtodomDetail_NextData(t *testing.T) {
	rec, err := parseOtodomDetail(string(loadFixture(t, "otodom_next_data.html")), "https://www.otodom.pl/pl/oferta/dom-ID4abc")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.Title != "Dom wolnostojący 150 m2" {
		t.Fatalf("unexpected title %q", rec.Title)
	}
	if rec.Description != "Dom z ogrodem w spokojnej okolicy." {
		t.Fatalf("expected Polish description, got %q", rec.Description)
	}
	if rec.Price != "450000" {
		t.Fatalf("expected price 450000, got %q", rec.Price)
	}
	if rec.City != "Kielce" || rec.Region != "świętokrzyskie" {
		t.Fatalf("unexpected city/region %q/%q", rec.City, rec.Region)
	}
	if rec.Location != "Kielce, świętokrzyskie" {
		t.Fatalf("unexpected location %q", rec.Location)
	}
	if len(rec.Images) != 2 {
		t.Fatalf("expected 2 images, got %v", rec.Images)
	}
}

func TestParseOtodomDetail_MarkupFallback(t *testing.T) {
	rec, err := parseOtodomDetail(string(loadFixture(t, "otodom_plain.html")), "https://www.otodom.pl/pl/oferta/m2-ID4def")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.Title != "Mieszkanie 2 pokoje" {
		t.Fatalf("unexpected title %q", rec.Title)
	}
	if rec.Price != "299 000 zł" {
		t.Fatalf("unexpected price %q", rec.Price)
	}
	if rec.Location != "Kraków, Krowodrza, małopolskie" {
		t.Fatalf("unexpected location %q", rec.Location)
	}
}

func TestPriceText(t *testing.T) {
	if got := priceText(float64(450000)); got != "450000" {
		t.Fatalf("expected 450000, got %q", got)
	}
	if got := priceText(1234.5); got != "1234,50" {
		t.Fatalf("expected 1234,50, got %q", got)
	}
	if got := priceText(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestOtodomHandler_Records(t *testing.T) {
	base := "https://otodom.test"
	pages := &fakePages{html: map[string]string{}}
	pages.html[base+otodomSearchPath] = string(loadFixture(t, "otodom_list.html"))
	pages.html[base+otodomSearchPath+"?page=2"] = "<html><body></body></html>"
	pages.html[base+"/pl/oferta/dom-wolnostojacy-150-m2-ID4abc"] = string(loadFixture(t, "otodom_next_data.html"))
	pages.html[base+"/pl/oferta/mieszkanie-2-pokoje-ID4def"] = string(loadFixture(t, "komornik_error.html"))
	var slept int
	h := NewOtodomHandler(SourceOptions{BaseURL: base, MaxPages: 5, Delay: time.Second},
		func() (PageSource, error) { return pages, nil },
		func(time.Duration) { slept++ },
		zap.NewNop())

	records, err := collect(t, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].URL != base+"/pl/oferta/dom-wolnostojacy-150-m2-ID4abc" {
		t.Fatalf("expected canonical URL, got %s", records[0].URL)
	}
	if !pages.closed {
		t.Fatal("expected browser to be closed")
	}
	if slept != 4 {
		t.Fatalf("expected a pause after each of 4 page loads, got %d", slept)
	}
}

func TestOtodomHandler_FirstPageFailure(t *testing.T) {
	pages := &fakePages{html: map[string]string{}}
	h := NewOtodomHandler(SourceOptions{BaseURL: "https://otodom.test", MaxPages: 2},
		func() (PageSource, error) { return pages, nil },
		func(time.Duration) {},
		zap.NewNop())

	if _, err := collect(t, h); err == nil {
		t.Fatal("expected error when the first search page fails")
	}
	if !pages.closed {
		t.Fatal("expected browser to be closed")
	}
}

func TestOtodomHandler_LaunchFailure(t *testing.T) {
	h := NewOtodomHandler(SourceOptions{MaxPages: 1},
		func() (PageSource, error) { return nil, errors.New("chromium missing") },
		func(time.Duration) {},
		zap.NewNop())

	if _, err := collect(t, h); err == nil {
		t.Fatal("expected launch error")
	}
}
