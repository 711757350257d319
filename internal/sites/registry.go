package sites

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

// RateLimitProfile is the per-site pacing configuration. Immutable once
// attached to an entry.
type RateLimitProfile struct {
	MinDelay             time.Duration
	MaxDelay             time.Duration
	MaxRequestsPerMinute int
	BackoffMultiplier    float64
	MaxBackoffDelay      time.Duration
}

// Selectors holds the ordered CSS selector alternatives per field. Earlier
// selectors win.
type Selectors struct {
	Title        []string
	Price        []string
	Availability []string
}

// ExtractFunc is a site-specific extractor applied before the generic
// selector chains.
type ExtractFunc func(doc *goquery.Document, entry *Entry) (*models.ProductRecord, error)

// Entry describes a known retailer. Entries are immutable after
// registration.
type Entry struct {
	Name      string
	Patterns  []string
	Priority  int
	Selectors Selectors
	Profile   RateLimitProfile
	Extract   ExtractFunc
}

// Registry maps host patterns to site entries. Lookup-only after startup;
// Register may append but never mutates existing entries.
type Registry struct {
	mu      sync.RWMutex
	entries []*Entry
	generic *Entry
}

// NewRegistry builds a registry preloaded with the built-in site table.
func NewRegistry() *Registry {
	r := &Registry{
		generic: genericEntry(),
	}
	for _, e := range builtinEntries() {
		r.entries = append(r.entries, e)
	}
	return r
}

// Register appends a new entry. Existing entries are never replaced.
func (r *Registry) Register(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Detect matches the URL's host against each entry's patterns. The longest
// matching pattern wins; unknown hosts resolve to the generic entry.
func (r *Registry) Detect(rawURL string) *Entry {
	host := hostOf(rawURL)
	if host == "" {
		return r.generic
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Entry
	bestLen := 0
	for _, e := range r.entries {
		for _, p := range e.Patterns {
			if matchesHost(host, p) && len(p) > bestLen {
				best = e
				bestLen = len(p)
			}
		}
	}

	if best == nil {
		return r.generic
	}
	return best
}

// Generic returns the fallback entry used for unknown hosts.
func (r *Registry) Generic() *Entry {
	return r.generic
}

// SelectorsFor returns the selector chains for the URL's site.
func (r *Registry) SelectorsFor(rawURL string) Selectors {
	return r.Detect(rawURL).Selectors
}

// RateProfileFor returns the rate-limit profile for the URL's site.
func (r *Registry) RateProfileFor(rawURL string) RateLimitProfile {
	return r.Detect(rawURL).Profile
}

// SpecializedExtractor returns the site-specific extractor, nil when the
// site only uses the generic chains.
func (r *Registry) SpecializedExtractor(rawURL string) ExtractFunc {
	return r.Detect(rawURL).Extract
}

// SiteKey normalizes a URL to the canonical site name used for metrics and
// per-site state.
func (r *Registry) SiteKey(rawURL string) string {
	return strings.ToLower(r.Detect(rawURL).Name)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// matchesHost reports whether host equals the pattern or is a subdomain of
// it.
func matchesHost(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}
