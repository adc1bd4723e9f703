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

// classifiedSite describes a classifieds portal with a paged search and one page per offer.
type classifiedSite struct {
	Source     models.Source
	BaseURL    string
	SearchPath string
	PageParam  string
	Links      string
	LinkPath   string
	SkipHosts  []string
	StripQuery bool
	Detail     detailSelectors
}

var olxSite = classifiedSite{
	Source:     models.SourceOLX,
	BaseURL:    "https://www.olx.pl",
	SearchPath: "/nieruchomosci/",
	PageParam:  "page",
	Links:      "a[href*='/d/oferta/']",
	LinkPath:   "/d/oferta/",
	SkipHosts:  []string{"otodom.pl"},
	StripQuery: true,
	Detail: detailSelectors{
		Title:        "h1, [data-cy='ad_title']",
		TitleDefault: "Oferta OLX",
		Description:  "[data-cy='ad_description'], .description",
		Price:        "[data-cy='ad_price'], [class*='price']",
		Location:     "[data-cy='ad_location'], [class*='location']",
		Images:       "img[src*='olx'], [data-cy='adPhotos'] img",
		ImageAttrs:   []string{"src", "data-src"},
	},
}

var gratkaSite = classifiedSite{
	Source:     models.SourceGratka,
	BaseURL:    "https://gratka.pl",
	SearchPath: "/nieruchomosci",
	PageParam:  "strona",
	Links:      "a[href*='/nieruchomosci/ogloszenie/'], a[href*='/ogloszenie/']",
	LinkPath:   "/ogloszenie/",
	Detail: detailSelectors{
		Title:        "h1, .listing__title, [class*='title']",
		TitleDefault: "Oferta Gratka",
		Description:  ".listing__description, [class*='description']",
		Price:        "[class*='price'], .listing__price",
		Location:     "[class*='location'], [class*='address'], .listing__location",
		Images:       "img[src*='gratka'], .listing__photos img, [class*='gallery'] img",
		ImageAttrs:   []string{"src", "data-src"},
	},
}

// ClassifiedHandler scrapes a classifieds portal: search pages, then each offer page.
type ClassifiedHandler struct {
	site  classifiedSite
	base  string
	pager *pager
}

func NewClassifiedHandler(site classifiedSite, opts SourceOptions, fetch *httputil.Fetcher, log *zap.Logger) *ClassifiedHandler {
	base := strings.TrimRight(orDefault(opts.BaseURL, site.BaseURL), "/")
	h := &ClassifiedHandler{site: site, base: base}
	h.pager = newPager(site.Source, fetch, log, opts, 1, func(page int) string {
		if page > 1 {
			return fmt.Sprintf("%s%s?%s=%d", base, site.SearchPath, site.PageParam, page)
		}
		return base + site.SearchPath
	})
	return h
}

func (h *ClassifiedHandler) ID() models.Source {
	return h.site.Source
}

func (h *ClassifiedHandler) Records(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		h.pager.walk(ctx, yield, func(doc *goquery.Document) (int, bool) {
			urls := h.site.parseList(doc, h.base)
			return len(urls), h.pager.details(ctx, yield, urls, h.site.Detail.parse)
		})
	}
}

func (s classifiedSite) parseList(doc *goquery.Document, base string) []string {
	var urls []string
	seen := make(map[string]bool)
	doc.Find(s.Links).Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if href == "" {
			return
		}
		resolve := identity.ResolveURL
		if s.StripQuery {
			resolve = identity.CanonicalURL
		}
		full, err := resolve(base, href)
		if err != nil || !strings.Contains(full, s.LinkPath) {
			return
		}
		for _, skip := range s.SkipHosts {
			if strings.Contains(full, skip) {
				return
			}
		}
		if !sameHost(base, full) {
			return
		}
		if !seen[full] {
			seen[full] = true
			urls = append(urls, full)
		}
	})
	return urls
}
