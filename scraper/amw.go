package scraper

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"estate_hunter/filter"
	"estate_hunter/httputil"
	"estate_hunter/identity"
	"estate_hunter/models"
	"estate_hunter/normalize"
)

const (
	amwBaseURL    = "https://amw.com.pl"
	amwOffersPath = "/pl/nieruchomosci/nieruchomosci-amw/"
	amwSearchPath = amwOffersPath + "wyniki-wyszukiwania/search,,city,,zone,,company,,category,,dev_forms,;,useful_area_from,,useful_area_to,,surface_from,,surface_to,,surface_unit,ha,price_from,,price_to,"
	amwPageLimit  = 50
	amwTitle      = "Nieruchomość AMW - "
)

var (
	amwPriceRegex  = regexp.MustCompile(`(?i)Cena\s+wywo[łl]awcza\s*\d[\d\s.]*(?:,\d{2})?\s*(?:PLN|zł)?`)
	amwRegionRegex = regexp.MustCompile(`Woj\.?:\s*([^\s,]+)`)
	amwDateRegex   = regexp.MustCompile(`(?i)W\s+dniu:\s*[\d.]+\s*r?\s*,?\s*godz\.?\s*[\d:]+`)
)

// AMWHandler reads the military property agency's search results. Offers are taken from
// the list pages only; an offer without its own link is keyed by a content fingerprint.
type AMWHandler struct {
	base  string
	pager *pager
}

func NewAMWHandler(opts SourceOptions, fetch *httputil.Fetcher, log *zap.Logger) *AMWHandler {
	base := strings.TrimRight(orDefault(opts.BaseURL, amwBaseURL), "/")
	h := &AMWHandler{base: base}
	h.pager = newPager(models.SourceAMW, fetch, log, opts, 0, func(page int) string {
		return fmt.Sprintf("%s%s,page,%d,limit,%d,sort,estate_asc", base, amwSearchPath, page, amwPageLimit)
	})
	return h
}

func (h *AMWHandler) ID() models.Source {
	return models.SourceAMW
}

func (h *AMWHandler) Records(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		h.pager.walk(ctx, yield, func(doc *goquery.Document) (int, bool) {
			offers := parseAMWList(doc, h.base, h.pager.phrases)
			for _, rec := range offers {
				if !h.pager.claim(rec.URL) {
					continue
				}
				if !yield(rec, nil) {
					return len(offers), false
				}
			}
			return len(offers), true
		})
	}
}

// parseAMWList turns every offer heading on a results page into a record.
func parseAMWList(doc *goquery.Document, base string, phrases []string) []models.RawRecord {
	var out []models.RawRecord
	doc.Find("h2").Each(func(_ int, h2 *goquery.Selection) {
		heading := normalize.CleanText(h2.Text())
		if utf8.RuneCountInString(heading) < 3 || isAMWSectionHeading(heading) {
			return
		}
		if filter.IsLikelyErrorPage(phrases, heading, "") {
			return
		}

		card := h2
		if parent := h2.Parent(); goquery.NodeName(parent) == "a" {
			card = parent
		}
		block := card.NextUntil("h2, :has(h2)")

		var parts []string
		block.Each(func(_ int, s *goquery.Selection) {
			if t := normalize.CleanText(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		text := strings.Join(parts, " ")

		price := amwPriceRegex.FindString(text)
		date := amwDateRegex.FindString(text)
		region := ""
		if m := amwRegionRegex.FindStringSubmatch(text); m != nil {
			region = m[1]
		}

		sourceURL := ""
		if path := findAMWDetailPath(card, block); path != "" {
			if u, err := identity.CanonicalURL(base, path); err == nil {
				sourceURL = u
			}
		}
		if sourceURL == "" {
			fp := identity.Fingerprint(heading, normalize.ParsePrice(price), normalize.ParseAuctionDate(date))
			sourceURL = identity.AnchorURL(base+amwOffersPath, fp)
		}

		city, _, _ := strings.Cut(heading, ",")
		out = append(out, models.RawRecord{
			Source:      models.SourceAMW,
			URL:         sourceURL,
			Title:       amwTitle + heading,
			Description: "Powierzchnia / Cena wywoławcza w ofercie AMW. " + normalize.Truncate(text, 1500),
			Price:       price,
			Location:    heading,
			City:        strings.TrimSpace(city),
			Region:      region,
			Date:        date,
			Payload: map[string]any{
				"price_raw": price,
				"snippet":   normalize.Truncate(text, 500),
			},
		})
	})
	return out
}

func isAMWSectionHeading(heading string) bool {
	return strings.HasPrefix(heading, "Kategoria") ||
		strings.Contains(heading, "Województwo") ||
		strings.Contains(heading, "Lista")
}

// findAMWDetailPath prefers a link wrapping the heading, then the first offer link in the card body.
func findAMWDetailPath(card, block *goquery.Selection) string {
	if goquery.NodeName(card) == "a" {
		if href := card.AttrOr("href", ""); isAMWDetailPath(href) {
			return href
		}
	}
	links := block.Filter("a[href]").AddSelection(block.Find("a[href]"))
	var found string
	links.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if href := a.AttrOr("href", ""); isAMWDetailPath(href) {
			found = href
			return false
		}
		return true
	})
	return found
}

func isAMWDetailPath(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || href == "" {
		return false
	}
	path := u.Path
	if !strings.Contains(path, amwOffersPath) || strings.Contains(path, "wyniki-wyszukiwania") {
		return false
	}
	return strings.TrimPrefix(path[strings.Index(path, amwOffersPath):], amwOffersPath) != ""
}
