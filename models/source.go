package models

import "fmt"

// Source identifies one external origin of listings.
type Source string

const (
	SourceKomornik   Source = "komornik"
	SourceELicytacje Source = "e_licytacje"
	SourceAMW        Source = "amw"
	SourceOLX        Source = "olx"
	SourceOtodom     Source = "otodom"
	SourceGratka     Source = "gratka"
	SourceFacebook   Source = "facebook"
)

var allSources = []Source{
	SourceKomornik,
	SourceELicytacje,
	SourceAMW,
	SourceOLX,
	SourceOtodom,
	SourceGratka,
	SourceFacebook,
}

// AllSources returns every known source in canonical order.
func AllSources() []Source {
	out := make([]Source, len(allSources))
	copy(out, allSources)
	return out
}

func ParseSource(s string) (Source, error) {
	for _, src := range allSources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source: %s", s)
}

// Archivable reports whether one pass over the source observes its full listing set.
// Dataset-fed sources only deliver what the remote actor happened to collect.
func (s Source) Archivable() bool {
	return s != SourceFacebook
}

func (s Source) String() string {
	return string(s)
}
