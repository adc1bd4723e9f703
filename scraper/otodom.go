package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"estate_hunter/filter"
	"estate_hunter/httputil"
	"estate_hunter/identity"
	"estate_hunter/models"
)

const (
	otodomBaseURL    = "https://www.otodom.pl"
	otodomSearchPath = "/pl/nieruchomosci/sprzedaz"
	otodomTitle      = "Oferta Otodom"
)

// PageSource renders pages in a real browser and returns their HTML.
type PageSource interface {
	HTML(url string, settle bool) (string, error)
	Close() error
}

type BrowserLauncher func() (PageSource, error)

type playwrightPages struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// LaunchPlaywright starts a headless Chromium.
func LaunchPlaywright() (PageSource, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return &playwrightPages{pw: pw, browser: browser}, nil
}

// HTML opens url in a fresh page. settle waits for the network to go idle, which search
// pages need before their offer links are rendered.
func (p *playwrightPages) HTML(url string, settle bool) (string, error) {
	page, err := p.browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(httputil.DefaultUserAgent),
		Locale:    playwright.String("pl-PL"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	opts := playwright.PageGotoOptions{
		Timeout:   playwright.Float(20000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}
	if settle {
		opts.Timeout = playwright.Float(30000)
		opts.WaitUntil = playwright.WaitUntilStateNetworkidle
	}
	if _, err := page.Goto(url, opts); err != nil {
		return "", err
	}
	return page.Content()
}

func (p *playwrightPages) Close() error {
	if p.browser != nil {
		p.browser.Close()
	}
	if p.pw != nil {
		return p.pw.Stop()
	}
	return nil
}

// OtodomHandler drives a browser through the sale search, collecting offer links first
// and then reading each offer's embedded page data.
type OtodomHandler struct {
	opts   SourceOptions
	base   string
	launch BrowserLauncher
	sleep  func(time.Duration)
	log    *zap.Logger
}

func NewOtodomHandler(opts SourceOptions, launch BrowserLauncher, sleep func(time.Duration), log *zap.Logger) *OtodomHandler {
	return &OtodomHandler{
		opts:   opts,
		base:   strings.TrimRight(orDefault(opts.BaseURL, otodomBaseURL), "/"),
		launch: launch,
		sleep:  sleep,
		log:    log,
	}
}

func (h *OtodomHandler) ID() models.Source {
	return models.SourceOtodom
}

func (h *OtodomHandler) Records(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		pages, err := h.launch()
		if err != nil {
			yield(models.RawRecord{}, err)
			return
		}
		defer pages.Close()

		urls, err := h.collectLinks(ctx, pages)
		if err != nil {
			yield(models.RawRecord{}, err)
			return
		}
		h.log.Info("otodom search collected", zap.Int("links", len(urls)))

		for _, u := range urls {
			if ctx.Err() != nil {
				yield(models.RawRecord{}, ctx.Err())
				return
			}
			html, err := pages.HTML(u, false)
			h.sleep(h.opts.Delay)
			if err != nil {
				h.log.Warn("skip listing", zap.String("url", u), zap.Error(err))
				continue
			}
			rec, err := parseOtodomDetail(html, u)
			if err != nil {
				h.log.Warn("skip listing", zap.String("url", u), zap.Error(err))
				continue
			}
			if filter.IsLikelyErrorPage(h.opts.ErrorPagePhrases, rec.Title, rec.Description) {
				h.log.Warn("skip likely error page", zap.String("url", u), zap.String("title", rec.Title))
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (h *OtodomHandler) collectLinks(ctx context.Context, pages PageSource) ([]string, error) {
	var urls []string
	seen := make(map[string]bool)
	for page := 1; page <= h.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listURL := h.base + otodomSearchPath
		if page > 1 {
			listURL = fmt.Sprintf("%s?page=%d", listURL, page)
		}
		html, err := pages.HTML(listURL, true)
		h.sleep(h.opts.Delay)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("list page %s: %w", listURL, err)
			}
			h.log.Warn("list page failed; ending pagination", zap.String("url", listURL), zap.Error(err))
			break
		}
		links := parseOtodomList(html, h.base)
		if len(links) == 0 {
			break
		}
		for _, l := range links {
			if !seen[l] {
				seen[l] = true
				urls = append(urls, l)
			}
		}
	}
	return urls, nil
}

func parseOtodomList(html, base string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var urls []string
	doc.Find("a[href*='/pl/oferty/'], a[href*='/oferta/']").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if !strings.Contains(href, "/oferty/") && !strings.Contains(href, "/oferta/") {
			return
		}
		if full, err := identity.CanonicalURL(base, href); err == nil {
			urls = append(urls, full)
		}
	})
	return urls
}

// parseOtodomDetail prefers the page's __NEXT_DATA__ payload and falls back to the markup.
func parseOtodomDetail(html, sourceURL string) (models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("parse %s: %w", sourceURL, err)
	}
	if script := doc.Find("script#__NEXT_DATA__").First(); script.Length() > 0 {
		var data map[string]any
		if err := json.Unmarshal([]byte(script.Text()), &data); err == nil {
			return otodomFromNextData(data, sourceURL), nil
		}
	}

	return models.RawRecord{
		Source:      models.SourceOtodom,
		URL:         sourceURL,
		Title:       orDefault(firstText(doc.Selection, "h1, [data-cy='adPageAdTitle']"), otodomTitle),
		Description: firstText(doc.Selection, "[data-cy='adPageAdDescription']"),
		Price:       firstText(doc.Selection, "[data-cy='adPageHeaderPrice']"),
		Location:    firstText(doc.Selection, "[data-cy='adPageHeaderLocation']"),
		Payload:     map[string]any{"url": sourceURL},
	}, nil
}

func otodomFromNextData(data map[string]any, sourceURL string) models.RawRecord {
	props := object(object(data["props"])["pageProps"])
	listing := object(props["listing"])
	if len(listing) == 0 {
		listing = object(props["data"])
	}

	rec := models.RawRecord{
		Source: models.SourceOtodom,
		URL:    sourceURL,
		Title:  orDefault(firstString(listing, "title", "name"), otodomTitle),
		Images: imageURLs(listing["images"]),
		Payload: map[string]any{
			"listing": listing,
			"url":     sourceURL,
		},
	}

	switch d := firstValue(listing, "description", "descriptionPlain").(type) {
	case string:
		rec.Description = d
	case map[string]any:
		rec.Description = firstString(d, "pl", "en")
	}

	price := firstValue(listing, "price", "totalPrice")
	if m, ok := price.(map[string]any); ok {
		price = firstValue(m, "value", "amount")
	}
	rec.Price = priceText(price)

	switch loc := listing["location"].(type) {
	case map[string]any:
		address := object(loc["address"])
		city := strings.TrimSpace(orDefault(stringOf(address["city"]), stringOf(loc["city"])))
		region := strings.TrimSpace(orDefault(stringOf(address["region"]), stringOf(loc["region"])))
		rec.City = city
		rec.Region = region
		var parts []string
		for _, p := range []string{city, region} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		rec.Location = strings.Join(parts, ", ")
	case string:
		rec.Location = loc
	}
	return rec
}

// priceText renders a JSON price in the form the price parser reads: digits, with a
// decimal comma when there are grosze.
func priceText(v any) string {
	switch p := v.(type) {
	case float64:
		if p == math.Trunc(p) {
			return strconv.FormatInt(int64(p), 10)
		}
		return strings.Replace(strconv.FormatFloat(p, 'f', 2, 64), ".", ",", 1)
	case string:
		return p
	}
	return ""
}
