// Package normalize turns adapter output into canonical listings.
package normalize

import (
	"encoding/json"
	"net/url"
	"strings"
	"unicode/utf8"

	"estate_hunter/models"
)

const (
	maxDescriptionRunes = 5000
	defaultLocation     = "Polska"
)

// Listing converts a raw record into the canonical shape. It reports false when
// the record has no usable title or absolute source URL.
func Listing(raw models.RawRecord) (models.Listing, bool) {
	title := CleanText(raw.Title)
	sourceURL := strings.TrimSpace(raw.URL)
	if title == "" || !isAbsoluteHTTP(sourceURL) {
		return models.Listing{}, false
	}

	location := CleanText(raw.Location)
	if location == "" {
		location = defaultLocation
	}
	city := CleanText(raw.City)
	if city == "" {
		city = CityFromLocation(location)
	}

	l := models.Listing{
		Source:          raw.Source,
		SourceURL:       sourceURL,
		Title:           title,
		PriceMinorUnits: ParsePrice(raw.Price),
		Location:        location,
		City:            city,
		AuctionDate:     ParseAuctionDate(raw.Date),
		Images:          resolveImages(sourceURL, raw.Images),
	}

	if desc := Truncate(CleanText(raw.Description), maxDescriptionRunes); desc != "" {
		l.Description = &desc
	}
	if region := CleanText(raw.Region); region != "" {
		l.Region = &region
	}

	payload := raw.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	l.RawPayload = data

	return l, true
}

// CleanText collapses whitespace runs (including NBSP) and trims.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// CityFromLocation takes the first comma-separated part of a location line.
func CityFromLocation(location string) string {
	if location == "" {
		return defaultLocation
	}
	first, _, _ := strings.Cut(location, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return location
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func resolveImages(base string, images []string) []string {
	out := make([]string, 0, len(images))
	seen := make(map[string]bool, len(images))
	baseURL, _ := url.Parse(base)
	for _, img := range images {
		img = strings.TrimSpace(img)
		if img == "" {
			continue
		}
		if ref, err := url.Parse(img); err == nil && baseURL != nil {
			img = baseURL.ResolveReference(ref).String()
		}
		if seen[img] {
			continue
		}
		seen[img] = true
		out = append(out, img)
	}
	return out
}
