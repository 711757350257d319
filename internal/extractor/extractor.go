package extractor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/parser"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/sites"
)

// Extractor turns a rendered product page into a validated ProductRecord.
// It prefers embedded schema.org structured data, then the site's
// specialized extractor, then the selector chains.
type Extractor struct {
	logger *slog.Logger
}

// New builds an extractor.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{
		logger: logger.With("component", "extractor"),
	}
}

// Extract parses the page HTML for the given site entry. Errors carry
// "selector" or "parse" markers so the classifier can label them.
func (e *Extractor) Extract(html, url string, entry *sites.Entry) (*models.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return e.ExtractFromDocument(doc, url, entry)
}

// ExtractFromDocument is Extract over an already-parsed document. Given
// the same document it returns the same record apart from CapturedAt.
func (e *Extractor) ExtractFromDocument(doc *goquery.Document, url string, entry *sites.Entry) (*models.ProductRecord, error) {
	var record *models.ProductRecord

	if ld, ok := parser.ExtractJSONLD(doc); ok && ld.Title != "" && ld.Price > 0 {
		record = ld
		e.logger.Debug("extracted from structured data", "url", url)
	}

	if record == nil && entry.Extract != nil {
		specialized, err := entry.Extract(doc, entry)
		if err != nil {
			e.logger.Debug("specialized extractor failed, falling back",
				"site", entry.Name, "error", err)
		} else {
			record = specialized
		}
	}

	if record == nil {
		chained, err := e.extractWithSelectors(doc, entry)
		if err != nil {
			return nil, err
		}
		record = chained
	}

	e.fillDefaults(record, doc, entry)
	record.Site = entry.Name
	record.URL = url
	record.CapturedAt = time.Now()

	if errs := record.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("selector extraction produced invalid record: %s", strings.Join(errs, "; "))
	}

	return record, nil
}

// extractWithSelectors walks each field's selector chain; the first
// non-empty trimmed text wins.
func (e *Extractor) extractWithSelectors(doc *goquery.Document, entry *sites.Entry) (*models.ProductRecord, error) {
	record := &models.ProductRecord{}

	record.Title = firstText(doc, entry.Selectors.Title)
	if record.Title == "" {
		return nil, fmt.Errorf("selector failed: no title matched for %s", entry.Name)
	}

	priceText := firstPriceText(doc, entry.Selectors.Price)
	if priceText == "" {
		return nil, fmt.Errorf("selector failed: no price matched for %s", entry.Name)
	}

	price, err := parser.ParsePrice(priceText)
	if err != nil {
		return nil, fmt.Errorf("price parse failed: %w", err)
	}
	record.Price = price
	record.Currency = parser.DetectCurrency(priceText)

	record.AvailabilityText = firstText(doc, entry.Selectors.Availability)
	record.Available = parser.ParseAvailability(record.AvailabilityText)

	return record, nil
}

// fillDefaults completes fields a primary extraction path left empty.
func (e *Extractor) fillDefaults(record *models.ProductRecord, doc *goquery.Document, entry *sites.Entry) {
	if record.Currency == "" {
		record.Currency = "USD"
	}

	if record.Available == models.AvailabilityUnknown {
		if text := firstText(doc, entry.Selectors.Availability); text != "" {
			record.AvailabilityText = text
			record.Available = parser.ParseAvailability(text)
		}
	}
	if record.Available == models.AvailabilityUnknown && hasAddToCart(doc) {
		record.Available = models.AvailabilityInStock
	}
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// firstPriceText also honors content/data-price attributes, which many
// microdata price elements use instead of text.
func firstPriceText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
		if content, ok := sel.Attr("data-price"); ok && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}
	return ""
}

var addToCartSelectors = []string{
	"#add-to-cart-button",
	"button[class*=add-to-cart]",
	"button[id*=add-to-cart]",
	"button[name*=add]",
	"[data-action*=add-to-cart]",
}

func hasAddToCart(doc *goquery.Document) bool {
	for _, selector := range addToCartSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return false
}
