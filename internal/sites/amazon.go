package sites

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/parser"
)

// extractAmazon reads the Amazon product layout directly. Amazon pages do
// not carry usable JSON-LD, so the specialized extractor goes straight to
// the known element IDs.
func extractAmazon(doc *goquery.Document, entry *Entry) (*models.ProductRecord, error) {
	record := &models.ProductRecord{
		Site: entry.Name,
	}

	record.Title = strings.TrimSpace(doc.Find("#productTitle").First().Text())
	if record.Title == "" {
		return nil, fmt.Errorf("amazon title not found")
	}

	var priceText string
	for _, selector := range entry.Selectors.Price {
		priceText = strings.TrimSpace(doc.Find(selector).First().Text())
		if priceText != "" {
			break
		}
	}
	if priceText == "" {
		return nil, fmt.Errorf("amazon price not found")
	}

	price, err := parser.ParsePrice(priceText)
	if err != nil {
		return nil, fmt.Errorf("amazon price: %w", err)
	}
	record.Price = price
	record.Currency = parser.DetectCurrency(priceText)

	if brand := doc.Find("a#bylineInfo").First().Text(); brand != "" {
		brand = strings.TrimSpace(brand)
		brand = strings.TrimPrefix(brand, "Brand: ")
		brand = strings.TrimPrefix(brand, "Marke: ")
		brand = strings.TrimPrefix(brand, "Visit the ")
		brand = strings.TrimSuffix(brand, " Store")
		record.Brand = brand
	}

	if img, ok := doc.Find("#landingImage").First().Attr("src"); ok {
		record.Image = img
	}

	availability := strings.TrimSpace(doc.Find("#availability span").First().Text())
	if availability == "" {
		availability = strings.TrimSpace(doc.Find("#availability").First().Text())
	}
	record.AvailabilityText = availability
	record.Available = parser.ParseAvailability(availability)
	if record.Available == models.AvailabilityUnknown && doc.Find("#add-to-cart-button").Length() > 0 {
		record.Available = models.AvailabilityInStock
	}

	return record, nil
}
