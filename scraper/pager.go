package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"estate_hunter/filter"
	"estate_hunter/httputil"
	"estate_hunter/models"
)

// pager walks numbered list pages of one site and remembers which offers it already emitted.
type pager struct {
	source    models.Source
	fetch     *httputil.Fetcher
	log       *zap.Logger
	phrases   []string
	maxPages  int
	firstPage int
	pageURL   func(page int) string
	seen      map[string]bool
}

func newPager(source models.Source, fetch *httputil.Fetcher, log *zap.Logger, opts SourceOptions, firstPage int, pageURL func(int) string) *pager {
	return &pager{
		source:    source,
		fetch:     fetch,
		log:       log,
		phrases:   opts.ErrorPagePhrases,
		maxPages:  opts.MaxPages,
		firstPage: firstPage,
		pageURL:   pageURL,
		seen:      make(map[string]bool),
	}
}

// walk hands every list page to visit until the budget is spent, a page has no item
// links, or visit reports the consumer stopped. Only a failure on the first page is
// yielded as an error; later failures end pagination and keep what was collected.
func (p *pager) walk(ctx context.Context, yield func(models.RawRecord, error) bool, visit func(doc *goquery.Document) (links int, more bool)) {
	for i := 0; i < p.maxPages; i++ {
		if err := ctx.Err(); err != nil {
			yield(models.RawRecord{}, err)
			return
		}

		page := p.firstPage + i
		listURL := p.pageURL(page)
		doc, err := p.fetch.Document(ctx, listURL)
		if err != nil {
			if i == 0 {
				yield(models.RawRecord{}, fmt.Errorf("list page %s: %w", listURL, err))
				return
			}
			p.log.Warn("list page failed; ending pagination", zap.String("url", listURL), zap.Error(err))
			return
		}

		links, more := visit(doc)
		if !more {
			return
		}
		p.log.Info("list page parsed", zap.Int("page", i+1), zap.Int("links", links))
		if links == 0 {
			return
		}
	}
}

// claim reports whether key is new for this pass.
func (p *pager) claim(key string) bool {
	if p.seen[key] {
		return false
	}
	p.seen[key] = true
	return true
}

// details fetches and parses each unseen detail URL, yielding the records that are not
// error pages. It returns false when the consumer stopped.
func (p *pager) details(ctx context.Context, yield func(models.RawRecord, error) bool, urls []string, parse func(doc *goquery.Document, detailURL string) models.RawRecord) bool {
	for _, u := range urls {
		if !p.claim(u) {
			continue
		}
		if ctx.Err() != nil {
			return true
		}
		rec, ok := p.detail(ctx, u, parse)
		if !ok {
			continue
		}
		if !yield(rec, nil) {
			return false
		}
	}
	return true
}

func (p *pager) detail(ctx context.Context, detailURL string, parse func(*goquery.Document, string) models.RawRecord) (models.RawRecord, bool) {
	doc, err := p.fetch.Document(ctx, detailURL)
	if err != nil {
		p.log.Warn("skip listing", zap.String("url", detailURL), zap.Error(err))
		return models.RawRecord{}, false
	}
	rec := parse(doc, detailURL)
	rec.Source = p.source
	if rec.URL == "" {
		rec.URL = detailURL
	}
	if filter.IsLikelyErrorPage(p.phrases, rec.Title, rec.Description) {
		p.log.Warn("skip likely error page", zap.String("url", detailURL), zap.String("title", rec.Title))
		return models.RawRecord{}, false
	}
	return rec, true
}

// detailSelectors describe where one site keeps the fields of a detail page.
type detailSelectors struct {
	Title         string
	TitleFallback string
	TitleDefault  string
	Description   string
	Price         string
	Location      string
	Date          string
	Images        string
	ImageAttrs    []string
	KeepImage     func(src string) bool
}

func (s detailSelectors) parse(doc *goquery.Document, detailURL string) models.RawRecord {
	rec := models.RawRecord{
		URL:         detailURL,
		Title:       firstText(doc.Selection, s.Title),
		Description: firstText(doc.Selection, s.Description),
		Price:       firstText(doc.Selection, s.Price),
		Location:    firstText(doc.Selection, s.Location),
		Date:        firstText(doc.Selection, s.Date),
		Images:      imageSources(doc.Selection, s.Images, s.ImageAttrs, s.KeepImage),
	}
	if rec.Title == "" {
		rec.Title = firstText(doc.Selection, s.TitleFallback)
	}
	if rec.Title == "" {
		rec.Title = s.TitleDefault
	}
	rec.Payload = map[string]any{
		"url":         detailURL,
		"title":       rec.Title,
		"description": rec.Description,
		"price":       rec.Price,
		"location":    rec.Location,
		"date":        rec.Date,
		"images":      rec.Images,
	}
	return rec
}

// firstText returns the trimmed text of the first match in document order.
func firstText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}

func imageSources(s *goquery.Selection, selector string, attrs []string, keep func(string) bool) []string {
	if selector == "" {
		return nil
	}
	if len(attrs) == 0 {
		attrs = []string{"src"}
	}
	var out []string
	s.Find(selector).Each(func(_ int, img *goquery.Selection) {
		for _, attr := range attrs {
			src := strings.TrimSpace(img.AttrOr(attr, ""))
			if src == "" {
				continue
			}
			if keep == nil || keep(src) {
				out = append(out, src)
			}
			return
		}
	})
	return out
}

// sameHost reports whether raw points at the host of base.
func sameHost(base, raw string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(b.Host, u.Host)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
