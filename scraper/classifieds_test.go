package scraper

import (
	"bytes"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"estate_hunter/models"
)

func TestOLXParseList(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, "olx_list.html")))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	urls := olxSite.parseList(doc, "https://www.olx.pl")
	if len(urls) != 2 {
		t.Fatalf("expected 2 offer links, got %d: %v", len(urls), urls)
	}
	if urls[0] != "https://www.olx.pl/d/oferta/mieszkanie-3-pokoje-kielce-CID3-IDabc.html" {
		t.Fatalf("expected query to be stripped, got %s", urls[0])
	}
}

func TestClassifiedHandler_OLX(t *testing.T) {
	const (
		offer  = "/d/oferta/mieszkanie-3-pokoje-kielce-CID3-IDabc.html"
		broken = "/d/oferta/dzialka-rolna-CID3-IDdef.html"
	)
	site, srv := newFixtureSite(t, map[string]route{
		"/nieruchomosci/":        {fixture: "olx_list.html"},
		"/nieruchomosci/?page=2": {fixture: "komornik_empty.html"},
		offer:                    {fixture: "olx_detail.html"},
		broken:                   {fixture: "komornik_error.html"},
	})

	h := NewClassifiedHandler(olxSite, SourceOptions{BaseURL: srv.URL, MaxPages: 3}, testFetcher(srv), zap.NewNop())
	if h.ID() != models.SourceOLX {
		t.Fatalf("expected olx, got %s", h.ID())
	}
	records, err := collect(t, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.Title != "Mieszkanie 3 pokoje, Kielce Centrum" {
		t.Fatalf("unexpected title %q", rec.Title)
	}
	if rec.Price != "389 000 zł" {
		t.Fatalf("unexpected price %q", rec.Price)
	}
	if rec.Location != "Kielce, Centrum" {
		t.Fatalf("unexpected location %q", rec.Location)
	}
	if len(rec.Images) != 2 {
		t.Fatalf("expected 2 images from src and data-src, got %v", rec.Images)
	}
	if site.hitCount("/nieruchomosci/?page=3") != 0 {
		t.Fatal("expected pagination to stop at the empty page")
	}
}

func TestParseELicytacjeList(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, "elicytacje_list.html")))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	urls := parseELicytacjeList(doc, "https://elicytacje.komornik.pl")
	if len(urls) != 2 {
		t.Fatalf("expected 2 auction links, got %d: %v", len(urls), urls)
	}
	if urls[0] != "https://elicytacje.komornik.pl/licytacje/4411" {
		t.Fatalf("unexpected first URL %s", urls[0])
	}
	if urls[1] != "https://elicytacje.komornik.pl/licytacje/4412" {
		t.Fatalf("unexpected second URL %s", urls[1])
	}
}

func TestELicytacjeDetail_TitleFallback(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, "elicytacje_detail.html")))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rec := elicytacjeDetail.parse(doc, "https://elicytacje.komornik.pl/licytacje/4411")
	if rec.Title != "E-licytacja 4411" {
		t.Fatalf("expected <title> fallback, got %q", rec.Title)
	}
	if rec.Description != "Mieszkanie dwupokojowe, 52 m2, III piętro." {
		t.Fatalf("unexpected description %q", rec.Description)
	}
	if rec.Price != "210 000,00 zł" {
		t.Fatalf("unexpected price %q", rec.Price)
	}
	if rec.Location != "Sąd Rejonowy w Radomiu" {
		t.Fatalf("unexpected location %q", rec.Location)
	}
	if rec.Date != "02.04.2026 12:30" {
		t.Fatalf("unexpected date %q", rec.Date)
	}
	if len(rec.Images) != 1 || rec.Images[0] != "/images/4411/1.jpg" {
		t.Fatalf("unexpected images %v", rec.Images)
	}
}
