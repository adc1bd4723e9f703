package scraper

import "strings"

// Helpers for reading loosely typed JSON objects from page data and dataset items.

func object(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func stringOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// firstValue returns the first key whose value is present and not empty.
func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

// firstString returns the first non-blank string value among keys, trimmed.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(stringOf(m[k])); s != "" {
			return s
		}
	}
	return ""
}

// imageURLs accepts a single URL, a list of URLs, or a list of {url|src} objects.
func imageURLs(v any) []string {
	var out []string
	switch images := v.(type) {
	case string:
		if s := strings.TrimSpace(images); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range images {
			switch img := item.(type) {
			case string:
				if s := strings.TrimSpace(img); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				if s := firstString(img, "url", "src"); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
