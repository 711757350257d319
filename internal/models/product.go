package models

import (
	"time"
)

// Availability is the tri-state stock signal extracted from a product page.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityInStock
	AvailabilityOutOfStock
)

func (a Availability) String() string {
	switch a {
	case AvailabilityInStock:
		return "in_stock"
	case AvailabilityOutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}

// ProductRecord is the result of a successful extraction.
type ProductRecord struct {
	Site             string       `json:"site"`
	URL              string       `json:"url"`
	Title            string       `json:"title"`
	Price            float64      `json:"price"`
	Currency         string       `json:"currency"`
	AvailabilityText string       `json:"availability"`
	Available        Availability `json:"available"`
	Brand            string       `json:"brand,omitempty"`
	SKU              string       `json:"sku,omitempty"`
	Image            string       `json:"image,omitempty"`
	CapturedAt       time.Time    `json:"captured_at"`
}

// Validate returns the list of constraint violations, empty when the record
// is usable.
func (p *ProductRecord) Validate() []string {
	var errs []string

	if p.Title == "" {
		errs = append(errs, "title is required")
	}
	if p.Price <= 0 {
		errs = append(errs, "price must be positive")
	}
	if p.Currency == "" {
		errs = append(errs, "currency is required")
	}

	return errs
}

// PricePoint is one row of a product's price history.
type PricePoint struct {
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	Availability string    `json:"availability"`
	CapturedAt   time.Time `json:"captured_at"`
}

// JobOptions controls how a single scrape job is executed.
type JobOptions struct {
	UseProxy            bool `json:"use_proxy"`
	AllowDirectFallback bool `json:"allow_direct_fallback"`
	AntiBotDelay        bool `json:"anti_bot_delay"`
}

// DefaultJobOptions enables proxying, direct fallback and the anti-bot delay.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		UseProxy:            true,
		AllowDirectFallback: true,
		AntiBotDelay:        true,
	}
}

// ScrapeJob is one unit of work for the coordinator.
type ScrapeJob struct {
	ID       string     `json:"id"`
	URL      string     `json:"url"`
	Options  JobOptions `json:"options"`
	Deadline time.Time  `json:"deadline"`

	Retries   int       `json:"retries"`
	CreatedAt time.Time `json:"created_at"`
}
