package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

// currencySymbols maps price prefixes/suffixes to ISO currency codes.
// Multi-character symbols must be checked before their prefixes.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
}

var currencyCodes = []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CHF", "SEK", "NOK", "DKK", "PLN"}

// ParsePrice extracts a positive decimal amount from free-form price text.
// It strips currency markers and thousand separators and decides between
// the US and European decimal conventions by the position of the last
// separator.
func ParsePrice(text string) (float64, error) {
	cleaned := stripCurrency(text)

	var b strings.Builder
	for _, r := range cleaned {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return 0, fmt.Errorf("no numeric value in %q", text)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// European: dots group thousands, comma is the decimal mark.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ",")
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, ".")
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q: %w", text, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0, fmt.Errorf("invalid price value %v in %q", value, text)
	}

	return value, nil
}

// normalizeSingleSeparator decides whether a lone separator kind groups
// thousands or marks decimals. Three trailing digits after the final
// occurrence mean grouping ("1.234"), fewer mean a decimal mark ("12,34").
func normalizeSingleSeparator(s, sep string) string {
	last := strings.LastIndex(s, sep)
	trailing := len(s) - last - 1

	if strings.Count(s, sep) > 1 || trailing == 3 {
		return strings.ReplaceAll(s, sep, "")
	}

	s = strings.ReplaceAll(s[:last], sep, "") + "." + s[last+1:]
	return s
}

// DetectCurrency resolves the ISO currency code for price text. Symbols and
// embedded codes win; bare comma-decimal amounts default to EUR, everything
// else to USD.
func DetectCurrency(text string) string {
	for _, c := range currencySymbols {
		if strings.Contains(text, c.symbol) {
			return c.code
		}
	}

	upper := strings.ToUpper(text)
	for _, code := range currencyCodes {
		if strings.Contains(upper, code) {
			return code
		}
	}

	if usesCommaDecimal(text) {
		return "EUR"
	}
	return "USD"
}

// usesCommaDecimal reports whether the amount is written in the European
// convention, e.g. "12,34" or "1.234,56".
func usesCommaDecimal(text string) bool {
	lastComma := strings.LastIndex(text, ",")
	if lastComma < 0 {
		return false
	}
	lastDot := strings.LastIndex(text, ".")
	if lastDot > lastComma {
		return false
	}

	trailing := 0
	for _, r := range text[lastComma+1:] {
		if r < '0' || r > '9' {
			break
		}
		trailing++
	}
	return trailing >= 1 && trailing <= 2
}

// ParseAvailability maps availability text onto the tri-state signal.
func ParseAvailability(text string) models.Availability {
	lower := strings.ToLower(text)

	for _, marker := range []string{"out of stock", "outofstock", "unavailable", "sold out", "nicht verfügbar", "ausverkauft"} {
		if strings.Contains(lower, marker) {
			return models.AvailabilityOutOfStock
		}
	}
	for _, marker := range []string{"in stock", "instock", "add to cart", "available", "auf lager"} {
		if strings.Contains(lower, marker) {
			return models.AvailabilityInStock
		}
	}

	return models.AvailabilityUnknown
}

func stripCurrency(text string) string {
	for _, c := range currencySymbols {
		text = strings.ReplaceAll(text, c.symbol, "")
	}
	upper := strings.ToUpper(text)
	for _, code := range currencyCodes {
		if idx := strings.Index(upper, code); idx >= 0 {
			text = text[:idx] + text[idx+len(code):]
			upper = strings.ToUpper(text)
		}
	}
	return strings.TrimSpace(text)
}
