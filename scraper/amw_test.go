package scraper

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"estate_hunter/identity"
	"estate_hunter/normalize"
)

func TestParseAMWList(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, "amw_list.html")))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	base := "https://amw.com.pl"

	offers := parseAMWList(doc, base, nil)
	if len(offers) != 3 {
		t.Fatalf("expected 3 offers, got %d", len(offers))
	}

	wrapped := offers[0]
	if wrapped.URL != base+"/pl/nieruchomosci/nieruchomosci-amw/oswiecim-ul-zwirki-i-wigury-25-3344" {
		t.Fatalf("unexpected URL for wrapped card %s", wrapped.URL)
	}
	if wrapped.Title != "Nieruchomość AMW - Oświęcim, ul. Żwirki i Wigury 25, lok U1" {
		t.Fatalf("unexpected title %q", wrapped.Title)
	}
	if wrapped.City != "Oświęcim" {
		t.Fatalf("expected city Oświęcim, got %q", wrapped.City)
	}
	if wrapped.Region != "małopolskie" {
		t.Fatalf("expected region małopolskie, got %q", wrapped.Region)
	}
	if !strings.HasPrefix(wrapped.Price, "Cena wywoławcza 900") {
		t.Fatalf("unexpected price %q", wrapped.Price)
	}
	if !strings.HasPrefix(wrapped.Date, "W dniu: 05.03.2026") {
		t.Fatalf("unexpected date %q", wrapped.Date)
	}
	if !strings.HasPrefix(wrapped.Description, "Powierzchnia / Cena wywoławcza w ofercie AMW. ") {
		t.Fatalf("unexpected description %q", wrapped.Description)
	}

	hashed := offers[1]
	heading := "Brzeg, ul. Chrobrego 14F,"
	fp := identity.Fingerprint(heading, normalize.ParsePrice(hashed.Price), normalize.ParseAuctionDate(hashed.Date))
	want := identity.AnchorURL(base+amwOffersPath, fp)
	if hashed.URL != want {
		t.Fatalf("expected fingerprint URL %s, got %s", want, hashed.URL)
	}
	if hashed.Region != "opolskie" {
		t.Fatalf("expected region opolskie, got %q", hashed.Region)
	}

	sibling := offers[2]
	if sibling.URL != base+"/pl/nieruchomosci/nieruchomosci-amw/bielsko-biala-ul-bardowskiego-12-3355" {
		t.Fatalf("unexpected URL for card with body link %s", sibling.URL)
	}
}

func TestParseAMWList_FingerprintIsStable(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, "amw_list.html")))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	first := parseAMWList(doc, "https://amw.com.pl", nil)
	second := parseAMWList(doc, "https://amw.com.pl", nil)
	if first[1].URL != second[1].URL {
		t.Fatalf("expected stable URL, got %s and %s", first[1].URL, second[1].URL)
	}
}

func TestIsAMWDetailPath(t *testing.T) {
	cases := []struct {
		href string
		want bool
	}{
		{"/pl/nieruchomosci/nieruchomosci-amw/brzeg-3344", true},
		{"https://amw.com.pl/pl/nieruchomosci/nieruchomosci-amw/brzeg-3344", true},
		{"/pl/nieruchomosci/nieruchomosci-amw/", false},
		{"/pl/nieruchomosci/nieruchomosci-amw/wyniki-wyszukiwania/search,page", false},
		{"/pl/kontakt", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isAMWDetailPath(c.href); got != c.want {
			t.Fatalf("isAMWDetailPath(%q): expected %v, got %v", c.href, c.want, got)
		}
	}
}

func TestAMWHandler_PagesFromZero(t *testing.T) {
	page := func(n int) string {
		return fmt.Sprintf("%s,page,%d,limit,%d,sort,estate_asc", amwSearchPath, n, amwPageLimit)
	}
	site, srv := newFixtureSite(t, map[string]route{
		page(0): {fixture: "amw_list.html"},
		page(1): {fixture: "amw_list.html"},
	})

	h := NewAMWHandler(SourceOptions{BaseURL: srv.URL, MaxPages: 2}, testFetcher(srv), zap.NewNop())
	records, err := collect(t, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected repeated offers to be emitted once, got %d", len(records))
	}
	if site.hitCount(page(0)) != 1 || site.hitCount(page(1)) != 1 {
		t.Fatalf("expected pages 0 and 1 to be fetched once each")
	}
}
