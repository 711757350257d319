package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected float64
		hasError bool
	}{
		{
			name:     "US convention with thousands",
			text:     "$1,234.56",
			expected: 1234.56,
		},
		{
			name:     "European convention with thousands",
			text:     "1.234,56 €",
			expected: 1234.56,
		},
		{
			name:     "bare integer with symbol",
			text:     "£12",
			expected: 12,
		},
		{
			name:     "comma decimal without symbol",
			text:     "12,34",
			expected: 12.34,
		},
		{
			name:     "currency code prefix",
			text:     "USD 0.99",
			expected: 0.99,
		},
		{
			name:     "single dot with three trailing digits groups thousands",
			text:     "1.234",
			expected: 1234,
		},
		{
			name:     "single comma with three trailing digits groups thousands",
			text:     "5,499",
			expected: 5499,
		},
		{
			name:     "repeated separators group thousands",
			text:     "1,234,567.89",
			expected: 1234567.89,
		},
		{
			name:     "surrounding markup noise",
			text:     "  Price: $49.99 (incl. tax)  ",
			expected: 49.99,
		},
		{
			name:     "no digits",
			text:     "free shipping",
			hasError: true,
		},
		{
			name:     "zero is rejected",
			text:     "0,00 €",
			hasError: true,
		},
		{
			name:     "empty string",
			text:     "",
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := ParsePrice(tt.text)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, value, 0.0001)
		})
	}
}

func TestDetectCurrency(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"dollar symbol", "$1,234.56", "USD"},
		{"euro symbol suffix", "1.234,56 €", "EUR"},
		{"pound symbol", "£12", "GBP"},
		{"canadian dollar before plain dollar", "C$20.00", "CAD"},
		{"australian dollar", "A$15.50", "AUD"},
		{"embedded code", "USD 0.99", "USD"},
		{"lowercase code", "12.50 eur", "EUR"},
		{"comma decimal defaults to EUR", "12,34", "EUR"},
		{"plain number defaults to USD", "19.99", "USD"},
		{"no hint at all", "price unknown", "USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectCurrency(tt.text))
		})
	}
}

func TestParseAvailability(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected models.Availability
	}{
		{"in stock", "In Stock", models.AvailabilityInStock},
		{"in stock with delivery note", "In stock. Ships within 2 days", models.AvailabilityInStock},
		{"german in stock", "Auf Lager", models.AvailabilityInStock},
		{"out of stock", "Currently out of stock", models.AvailabilityOutOfStock},
		{"sold out", "SOLD OUT", models.AvailabilityOutOfStock},
		{"unavailable wins over available substring", "Currently unavailable", models.AvailabilityOutOfStock},
		{"german out of stock", "Derzeit nicht verfügbar", models.AvailabilityOutOfStock},
		{"unknown", "ships from warehouse", models.AvailabilityUnknown},
		{"empty", "", models.AvailabilityUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseAvailability(tt.text))
		})
	}
}
