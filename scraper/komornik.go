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
	komornikBaseURL    = "https://licytacje.komornik.pl"
	komornikFilterPath = "/Notice/Filter/30" // 30 = mieszkania
)

var komornikDetail = detailSelectors{
	Title:        "h1, .title, .auction-title, [class*='title']",
	TitleDefault: "Licytacja komornicza",
	Description:  ".description, .content, [class*='description'], [class*='content']",
	Price:        "[class*='price'], [class*='cena'], .value",
	Location:     "[class*='location'], [class*='address'], [class*='miejsce']",
	Date:         "[class*='date'], [class*='termin'], [class*='auction-date']",
	Images:       "img[src*='upload'], img[src*='image']",
}

// KomornikHandler scrapes bailiff notices from the national bailiff council board.
type KomornikHandler struct {
	base   string
	region string
	pager  *pager
}

type komornikItem struct {
	URL    string
	Title  string
	Region string
}

func NewKomornikHandler(opts SourceOptions, fetch *httputil.Fetcher, log *zap.Logger) *KomornikHandler {
	base := strings.TrimRight(orDefault(opts.BaseURL, komornikBaseURL), "/")
	h := &KomornikHandler{base: base, region: opts.RegionFilter}
	h.pager = newPager(models.SourceKomornik, fetch, log, opts, 1, func(page int) string {
		if page > 1 {
			return fmt.Sprintf("%s%s?page=%d", base, komornikFilterPath, page)
		}
		return base + komornikFilterPath
	})
	return h
}

func (h *KomornikHandler) ID() models.Source {
	return models.SourceKomornik
}

func (h *KomornikHandler) Records(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		h.pager.walk(ctx, yield, func(doc *goquery.Document) (int, bool) {
			items, links := parseKomornikList(doc, h.base, h.region)
			for _, item := range items {
				more := h.pager.details(ctx, yield, []string{item.URL}, func(d *goquery.Document, u string) models.RawRecord {
					return parseKomornikDetail(d, u, item)
				})
				if !more {
					return links, false
				}
			}
			return links, true
		})
	}
}

// parseKomornikList reads the notice table. Columns: 0 Lp, 1 photo, 2 date, 3 name,
// 4 "city (voivodeship)", 5 price, 7 details link. The second result counts every row
// with a details link, so a page whose rows all fall outside the region does not end
// pagination.
func parseKomornikList(doc *goquery.Document, base, region string) ([]komornikItem, int) {
	region = strings.ToLower(strings.TrimSpace(region))
	var (
		items []komornikItem
		links int
	)
	seen := make(map[string]bool)

	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 8 {
			return
		}
		href, ok := tds.Eq(7).Find("a[href*='Notice/Details']").First().Attr("href")
		if !ok || href == "" {
			return
		}
		full, err := identity.ResolveURL(base, href)
		if err != nil || !sameHost(base, full) || !strings.Contains(full, "Details") {
			return
		}
		links++

		cityRegion := strings.TrimSpace(tds.Eq(4).Text())
		if region != "" && !strings.Contains(strings.ToLower(cityRegion), region) {
			return
		}
		if seen[full] {
			return
		}
		seen[full] = true
		items = append(items, komornikItem{
			URL:    full,
			Title:  orDefault(strings.TrimSpace(tds.Eq(3).Text()), komornikDetail.TitleDefault),
			Region: cityRegion,
		})
	})
	return items, links
}

func parseKomornikDetail(doc *goquery.Document, detailURL string, item komornikItem) models.RawRecord {
	rec := komornikDetail.parse(doc, detailURL)
	if rec.Title == komornikDetail.TitleDefault && item.Title != "" {
		rec.Title = item.Title
	}
	rec.Region = item.Region
	rec.Payload["list_title"] = item.Title
	rec.Payload["region"] = item.Region
	return rec
}
