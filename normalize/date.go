package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Sources publish auction times as Polish wall clock.
var warsaw = mustLoadLocation("Europe/Warsaw")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Warsaw returns the civil time zone sources report their dates in.
func Warsaw() *time.Location {
	return warsaw
}

var (
	dateLayouts = []string{"2006-01-02 15:04", "02.01.2006 15:04", "02.01.2006"}

	// "24.02.2026r, godz. 10:00", "24.02.2026 godz 9:30"
	dateTimeRegex = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})r?\s*,?\s*godz\.?\s*(\d{1,2}):(\d{2})`)
	dateOnlyRegex = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
)

const defaultAuctionHour = 10

// ParseAuctionDate interprets text as Europe/Warsaw wall clock and returns the UTC instant.
// Unparsable or empty input yields nil.
func ParseAuctionDate(text string) *time.Time {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil
	}

	if m := dateTimeRegex.FindStringSubmatch(t); m != nil {
		return civil(m[3], m[2], m[1], m[4], m[5])
	}

	head := t
	if len(head) > 19 {
		head = head[:19]
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.ParseInLocation(layout, strings.TrimSpace(head), warsaw); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}

	if m := dateOnlyRegex.FindStringSubmatch(t); m != nil {
		return civil(m[3], m[2], m[1], strconv.Itoa(defaultAuctionHour), "0")
	}
	return nil
}

func civil(year, month, day, hour, minute string) *time.Time {
	y, _ := strconv.Atoi(year)
	mo, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	h, _ := strconv.Atoi(hour)
	mi, _ := strconv.Atoi(minute)
	if mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 {
		return nil
	}
	local := time.Date(y, time.Month(mo), d, h, mi, 0, 0, warsaw)
	// time.Date normalizes 31.02 into March; reject instead.
	if local.Day() != d || int(local.Month()) != mo {
		return nil
	}
	utc := local.UTC()
	return &utc
}
