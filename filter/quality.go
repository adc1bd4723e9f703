// Package filter is the last gate before persistence.
package filter

import (
	"strings"
	"time"

	"estate_hunter/models"
)

// DefaultErrorPagePhrases mark maintenance/connectivity pages served in place of a listing.
var DefaultErrorPagePhrases = []string{
	"brak połączenia z internetem",
	"no internet connection",
	"błąd",
	"error",
	"strona tymczasowo niedostępna",
	"maintenance",
	"przerwa techniczna",
}

type Reason string

const (
	ReasonNone       Reason = ""
	ReasonErrorPage  Reason = "error_page"
	ReasonRegion     Reason = "region"
	ReasonDateWindow Reason = "date_window"
)

// Options configure one source's filter. Zero values disable the region and date checks.
type Options struct {
	Region         string
	DateWindowDays int
}

type Quality struct {
	phrases []string
	opts    Options
	now     func() time.Time
}

func New(phrases []string, opts Options) *Quality {
	if len(phrases) == 0 {
		phrases = DefaultErrorPagePhrases
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &Quality{
		phrases: lowered,
		opts:    opts,
		now:     time.Now,
	}
}

// WithClock overrides the reference time for the date window.
func (q *Quality) WithClock(now func() time.Time) *Quality {
	q.now = now
	return q
}

// Check returns the first reason the listing must be dropped, or ReasonNone.
func (q *Quality) Check(l *models.Listing) Reason {
	desc := ""
	if l.Description != nil {
		desc = *l.Description
	}
	if q.IsLikelyErrorPage(l.Title, desc) {
		return ReasonErrorPage
	}

	if want := strings.TrimSpace(q.opts.Region); want != "" {
		if l.Region == nil || !strings.Contains(strings.ToLower(*l.Region), strings.ToLower(want)) {
			return ReasonRegion
		}
	}

	if q.opts.DateWindowDays > 0 {
		oldest := q.now().AddDate(0, 0, -q.opts.DateWindowDays)
		if l.AuctionDate == nil || l.AuctionDate.Before(oldest) {
			return ReasonDateWindow
		}
	}

	return ReasonNone
}

func (q *Quality) Accept(l *models.Listing) bool {
	return q.Check(l) == ReasonNone
}

// IsLikelyErrorPage matches title and description against the phrase list, case-insensitively.
func (q *Quality) IsLikelyErrorPage(title, description string) bool {
	return containsAny(q.phrases, title, description)
}

// IsLikelyErrorPage is the package-level form used by adapters before normalization.
func IsLikelyErrorPage(phrases []string, title, description string) bool {
	if len(phrases) == 0 {
		phrases = DefaultErrorPagePhrases
	}
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return containsAny(lowered, title, description)
}

func containsAny(phrases []string, parts ...string) bool {
	text := strings.ToLower(strings.TrimSpace(strings.Join(parts, " ")))
	if text == "" {
		return false
	}
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
