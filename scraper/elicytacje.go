package scraper

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"estate_hunter/httputil"
	"estate_hunter/identity"
	"estate_hunter/models"
)

const (
	elicytacjeBaseURL    = "https://elicytacje.komornik.pl"
	elicytacjeSearchPath = "/wyszukiwarka-licytacji?mainCategory=REAL_ESTATE&sort=dateCreated%2CDESC"
)

var elicytacjeDetail = detailSelectors{
	Title:         "h1, .title, [class*='title']",
	TitleFallback: "title",
	TitleDefault:  "Licytacja sądowa",
	Description:   ".description, .content, [class*='opis']",
	Price:         "[class*='price'], [class*='cena'], .wartosc",
	Location:      "[class*='location'], [class*='address'], [class*='sad']",
	Date:          "[class*='date'], [class*='termin']",
	Images:        "img[src]",
	KeepImage: func(src string) bool {
		return strings.Contains(src, "upload") || strings.Contains(src, "image") || strings.Contains(src, "photo")
	},
}

// ELicytacjeHandler scrapes the electronic court auction system.
type ELicytacjeHandler struct {
	base  string
	pager *pager
}

func NewELicytacjeHandler(opts SourceOptions, fetch *httputil.Fetcher, log *zap.Logger) *ELicytacjeHandler {
	base := strings.TrimRight(orDefault(opts.BaseURL, elicytacjeBaseURL), "/")
	h := &ELicytacjeHandler{base: base}
	h.pager = newPager(models.SourceELicytacje, fetch, log, opts, 1, func(page int) string {
		if page > 1 {
			return fmt.Sprintf("%s%s&page=%d", base, elicytacjeSearchPath, page)
		}
		return base + elicytacjeSearchPath
	})
	return h
}

func (h *ELicytacjeHandler) ID() models.Source {
	return models.SourceELicytacje
}

func (h *ELicytacjeHandler) Records(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		h.pager.walk(ctx, yield, func(doc *goquery.Document) (int, bool) {
			urls := parseELicytacjeList(doc, h.base)
			return len(urls), h.pager.details(ctx, yield, urls, elicytacjeDetail.parse)
		})
	}
}

// parseELicytacjeList returns auction links in page order with the query dropped.
func parseELicytacjeList(doc *goquery.Document, base string) []string {
	var urls []string
	seen := make(map[string]bool)
	doc.Find("a[href*='/licytacje/']").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if href == "" {
			return
		}
		full, err := identity.CanonicalURL(base, href)
		if err != nil || !sameHost(base, full) || !strings.Contains(full, "/licytacje/") {
			return
		}
		if !seen[full] {
			seen[full] = true
			urls = append(urls, full)
		}
	})
	return urls
}
