package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Phrases meaning the seller does not publish a price.
var noPricePhrases = []string{
	"zapytaj o cenę",
	"zapytaj o cene",
	"cena do negocjacji",
	"cena do uzgodnienia",
	"na zapytanie",
	"do uzgodnienia",
	"kontakt",
}

// Polish formatting: "1 234,56", "1234,56", "1.234,56", "123 456".
var priceRegex = regexp.MustCompile(`\d[\d\s\x{00a0}.]*,\d{2}|\d[\d\s\x{00a0}.]*`)

// ParsePrice converts a Polish price string into grosze. Missing, negotiable
// and unparsable prices yield nil, never zero.
func ParsePrice(text string) *int64 {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return nil
	}
	for _, phrase := range noPricePhrases {
		if strings.Contains(t, phrase) {
			return nil
		}
	}

	match := priceRegex.FindString(t)
	if match == "" {
		return nil
	}

	num := strings.NewReplacer(" ", "", "\u00a0", "", "\t", "", "\r", "", "\n", "", ".", "", ",", ".").Replace(match)
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}

	scaled := math.Round(value * 100)
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if math.IsNaN(scaled) || math.IsInf(scaled, 0) || scaled >= math.MaxInt64 || scaled < math.MinInt64 {
		return nil
	}
	grosze := int64(scaled)
	return &grosze
}
