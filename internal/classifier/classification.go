package classifier

import "time"

// Category labels a scrape failure.
type Category string

const (
	CategoryCaptcha        Category = "captcha"
	CategoryRateLimit      Category = "rateLimit"
	CategoryBlocked        Category = "blocked"
	CategoryNotFound       Category = "notFound"
	CategorySelectorFailed Category = "selectorFailed"
	CategoryNetwork        Category = "network"
	CategoryTimeout        Category = "timeout"
	CategoryParseError     Category = "parseError"
	CategoryAuthRequired   Category = "authRequired"
	CategoryOutOfStock     Category = "outOfStock"
	CategoryGeoBlocked     Category = "geoBlocked"
	CategoryUnknown        Category = "unknown"

	// CategoryCooldown is emitted by the coordinator when a site's cooldown
	// gate fast-fails a job before any fetch happens.
	CategoryCooldown Category = "cooldown"
)

// Severity grades how badly a failure affects a site.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification is the structured label attached to any scrape outcome
// other than a clean success.
type Classification struct {
	Category  Category      `json:"category"`
	Site      string        `json:"site"`
	URL       string        `json:"url"`
	Severity  Severity      `json:"severity"`
	Retryable bool          `json:"retryable"`
	Cooldown  time.Duration `json:"cooldown"`
	Message   string        `json:"message"`
	At        time.Time     `json:"at"`
}

type policy struct {
	severity  Severity
	retryable bool
	cooldown  time.Duration
}

// policyTable maps each category to its fixed severity, retryability and
// recommended cooldown.
var policyTable = map[Category]policy{
	CategoryCaptcha:        {SeverityCritical, false, 5 * time.Minute},
	CategoryRateLimit:      {SeverityHigh, true, 1 * time.Minute},
	CategoryBlocked:        {SeverityHigh, true, 2 * time.Minute},
	CategoryGeoBlocked:     {SeverityHigh, true, 1 * time.Minute},
	CategoryAuthRequired:   {SeverityHigh, false, 0},
	CategoryNetwork:        {SeverityMedium, true, 5 * time.Second},
	CategoryTimeout:        {SeverityMedium, true, 10 * time.Second},
	CategorySelectorFailed: {SeverityMedium, true, 0},
	CategoryUnknown:        {SeverityMedium, true, 30 * time.Second},
	CategoryNotFound:       {SeverityLow, false, 0},
	CategoryOutOfStock:     {SeverityLow, false, 0},
	CategoryParseError:     {SeverityLow, true, 0},
	CategoryCooldown:       {SeverityHigh, false, 0},
}

// NewClassification builds a classification for a category by applying the
// policy table.
func NewClassification(category Category, site, url, message string) *Classification {
	p := policyTable[category]
	return &Classification{
		Category:  category,
		Site:      site,
		URL:       url,
		Severity:  p.severity,
		Retryable: p.retryable,
		Cooldown:  p.cooldown,
		Message:   message,
		At:        time.Now(),
	}
}
