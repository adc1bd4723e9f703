package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"estate_hunter/normalize"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// isoLayout matches the offset form listings were first keyed with ("+01:00", never "Z").
const isoLayout = "2006-01-02T15:04:05-07:00"

// Fingerprint derives a stable 16-hex-char key for offers published without their own URL.
// Dates are keyed in Warsaw wall clock so the key does not move with the server zone.
func Fingerprint(title string, priceMinorUnits *int64, auctionDate *time.Time) string {
	var price int64
	if priceMinorUnits != nil {
		price = *priceMinorUnits
	}
	date := ""
	if auctionDate != nil {
		date = auctionDate.In(normalize.Warsaw()).Format(isoLayout)
	}
	input := fmt.Sprintf("%s|%d|%s", NormalizeTitle(title), price, date)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// AnchorURL appends the fingerprint as a fragment to an index page URL.
func AnchorURL(indexURL, fingerprint string) string {
	return strings.TrimRight(indexURL, "#") + "#" + fingerprint
}

// NormalizeTitle collapses whitespace only; case and diacritics are part of the key.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(title, " "))
}

// CanonicalURL resolves href against base and drops query and fragment, so tracking
// parameters do not split one offer into several rows.
func CanonicalURL(base, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", err
		}
		ref = b.ResolveReference(ref)
	}
	ref.RawQuery = ""
	ref.Fragment = ""
	return ref.String(), nil
}

// ResolveURL resolves href against base, keeping the query.
func ResolveURL(base, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u := b.ResolveReference(ref)
	u.Fragment = ""
	return u.String(), nil
}
