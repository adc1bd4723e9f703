package scraper

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"estate_hunter/models"
)

// DatasetAdapter turns one dataset item of a given actor into a raw record.
type DatasetAdapter interface {
	Source() models.Source
	Record(item map[string]any) (models.RawRecord, bool)
}

// GetDatasetAdapter returns the adapter for a dataset-fed source.
func GetDatasetAdapter(source models.Source) (DatasetAdapter, error) {
	switch source {
	case models.SourceFacebook:
		return FacebookAdapter{}, nil
	}
	return nil, fmt.Errorf("%w: no dataset adapter for %s", ErrUnknownSource, source)
}

// SalesKeywords admit a post only when its text mentions at least one of them.
var SalesKeywords = []string{
	"sprzedaż",
	"sprzedam",
	"sprzedaję",
	"cena",
	"zł",
	"zl",
	"nieruchomość",
	"nieruchomosc",
	"mieszkanie",
	"dom",
	"działka",
	"dzialka",
	"licytacja",
	"wynajem",
	"do wynajęcia",
	"do wynajecia",
}

const (
	facebookTitleRunes = 500
	facebookTitle      = "Post Facebook"
)

// FacebookAdapter reads posts collected by a Facebook groups/pages actor.
type FacebookAdapter struct{}

func (FacebookAdapter) Source() models.Source {
	return models.SourceFacebook
}

// Record requires a post URL and a sales keyword in the post text.
func (FacebookAdapter) Record(item map[string]any) (models.RawRecord, bool) {
	postURL := firstString(item, "postUrl", "url", "link", "post_url")
	if postURL == "" {
		return models.RawRecord{}, false
	}
	text := postText(item)
	if !PassesSalesFilter(text) {
		return models.RawRecord{}, false
	}

	title := text
	if utf8.RuneCountInString(text) > facebookTitleRunes {
		title = string([]rune(text)[:facebookTitleRunes]) + "…"
	}

	payload := make(map[string]any, len(item))
	for k, v := range item {
		if k == "images" || k == "image" {
			continue
		}
		payload[k] = v
	}

	return models.RawRecord{
		Source:      models.SourceFacebook,
		URL:         postURL,
		Title:       orDefault(title, facebookTitle),
		Description: text,
		Images:      imageURLs(firstValue(item, "images", "image")),
		Payload:     payload,
	}, true
}

// postText joins the text-bearing fields actors use for a post.
func postText(item map[string]any) string {
	var parts []string
	for _, key := range []string{"title", "text", "message", "content", "description"} {
		if s := strings.TrimSpace(stringOf(item[key])); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func PassesSalesFilter(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range SalesKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
