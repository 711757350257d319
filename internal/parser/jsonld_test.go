package parser

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d
}

func TestExtractJSONLD(t *testing.T) {
	t.Run("plain product node", func(t *testing.T) {
		html := `<html><head><script type="application/ld+json">
		{
			"@context": "https://schema.org",
			"@type": "Product",
			"name": "Anon Helix 2.0 Goggles",
			"sku": "20446100021",
			"brand": {"@type": "Brand", "name": "Anon"},
			"image": ["https://cdn.example.com/helix.jpg"],
			"offers": {
				"@type": "Offer",
				"price": "59.95",
				"priceCurrency": "USD",
				"availability": "https://schema.org/InStock"
			}
		}
		</script></head><body></body></html>`

		record, ok := ExtractJSONLD(doc(t, html))
		require.True(t, ok)
		assert.Equal(t, "Anon Helix 2.0 Goggles", record.Title)
		assert.Equal(t, "Anon", record.Brand)
		assert.Equal(t, "20446100021", record.SKU)
		assert.Equal(t, "https://cdn.example.com/helix.jpg", record.Image)
		assert.InDelta(t, 59.95, record.Price, 0.0001)
		assert.Equal(t, "USD", record.Currency)
		assert.Equal(t, models.AvailabilityInStock, record.Available)
	})

	t.Run("product inside @graph with offer array", func(t *testing.T) {
		html := `<html><head><script type="application/ld+json">
		{
			"@context": "https://schema.org",
			"@graph": [
				{"@type": "BreadcrumbList"},
				{
					"@type": ["Product", "Thing"],
					"name": "Custom X Snowboard",
					"brand": "Burton",
					"offers": [
						{"@type": "Offer", "price": 779.95, "priceCurrency": "USD", "availability": "OutOfStock"}
					]
				}
			]
		}
		</script></head><body></body></html>`

		record, ok := ExtractJSONLD(doc(t, html))
		require.True(t, ok)
		assert.Equal(t, "Custom X Snowboard", record.Title)
		assert.Equal(t, "Burton", record.Brand)
		assert.InDelta(t, 779.95, record.Price, 0.0001)
		assert.Equal(t, models.AvailabilityOutOfStock, record.Available)
	})

	t.Run("malformed script is skipped", func(t *testing.T) {
		html := `<html><head>
		<script type="application/ld+json">{not json</script>
		<script type="application/ld+json">{"@type": "Product", "name": "Fallback"}</script>
		</head><body></body></html>`

		record, ok := ExtractJSONLD(doc(t, html))
		require.True(t, ok)
		assert.Equal(t, "Fallback", record.Title)
		assert.Zero(t, record.Price)
	})

	t.Run("no product node", func(t *testing.T) {
		html := `<html><head><script type="application/ld+json">
		{"@type": "WebSite", "name": "Shop"}
		</script></head><body></body></html>`

		record, ok := ExtractJSONLD(doc(t, html))
		assert.False(t, ok)
		assert.Nil(t, record)
	})
}
