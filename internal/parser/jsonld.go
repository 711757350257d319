package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

// ExtractJSONLD scans the document's application/ld+json scripts for a
// schema.org Product node and maps it to a partial record. The second
// return value reports whether a Product node was found at all; the record
// may still lack a price.
func ExtractJSONLD(doc *goquery.Document) (*models.ProductRecord, bool) {
	var record *models.ProductRecord

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var payload interface{}
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			return true
		}

		if node := findProductNode(payload); node != nil {
			record = mapProductNode(node)
			return false
		}
		return true
	})

	return record, record != nil
}

// findProductNode descends into arrays and @graph containers looking for a
// node whose @type is or includes "Product".
func findProductNode(v interface{}) map[string]interface{} {
	switch node := v.(type) {
	case []interface{}:
		for _, item := range node {
			if found := findProductNode(item); found != nil {
				return found
			}
		}
	case map[string]interface{}:
		if isProductType(node["@type"]) {
			return node
		}
		if graph, ok := node["@graph"]; ok {
			return findProductNode(graph)
		}
	}
	return nil
}

func isProductType(t interface{}) bool {
	switch typed := t.(type) {
	case string:
		return strings.EqualFold(typed, "Product")
	case []interface{}:
		for _, item := range typed {
			if s, ok := item.(string); ok && strings.EqualFold(s, "Product") {
				return true
			}
		}
	}
	return false
}

func mapProductNode(node map[string]interface{}) *models.ProductRecord {
	record := &models.ProductRecord{
		Title: stringField(node["name"]),
		Brand: brandName(node["brand"]),
		SKU:   stringField(node["sku"]),
		Image: firstString(node["image"]),
	}

	if offers := firstOffer(node["offers"]); offers != nil {
		if priceText := stringField(offers["price"]); priceText != "" {
			if price, err := ParsePrice(priceText); err == nil {
				record.Price = price
			}
		}
		record.Currency = stringField(offers["priceCurrency"])
		record.AvailabilityText = stringField(offers["availability"])
		record.Available = ParseAvailability(record.AvailabilityText)
	}

	return record
}

// firstOffer handles both a single offers object and an array of offers.
func firstOffer(v interface{}) map[string]interface{} {
	switch offers := v.(type) {
	case map[string]interface{}:
		return offers
	case []interface{}:
		for _, item := range offers {
			if m, ok := item.(map[string]interface{}); ok {
				return m
			}
		}
	}
	return nil
}

// brandName accepts both the plain-string and the {name: ...} brand shapes.
func brandName(v interface{}) string {
	switch brand := v.(type) {
	case string:
		return brand
	case map[string]interface{}:
		return stringField(brand["name"])
	}
	return ""
}

func firstString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				return s
			}
		}
	}
	return ""
}

// stringField renders scalar JSON values (string or number) as text.
func stringField(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", val), "0"), ".")
	}
	return ""
}
