package classifier

import (
	"log/slog"
	"sync"
	"time"
)

const (
	historySize      = 100
	recentErrorLimit = 10
	maxRetryDelay    = 60 * time.Second
)

// Status describes the health of a single site.
type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusRecovering Status = "recovering"
	StatusDegraded   Status = "degraded"
	StatusUnhealthy  Status = "unhealthy"
	StatusCritical   Status = "critical"
)

// SiteHealth is the per-site running window maintained by the classifier.
type SiteHealth struct {
	history           []*Classification // ring, newest at head index
	head              int
	count             int
	ConsecutiveErrors int
	LastError         *Classification
	LastSuccessAt     time.Time
	Status            Status
	CooldownUntil     time.Time
	recoverySuccesses int
}

// RetryDecision is the answer to "should this attempt be retried".
type RetryDecision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// SiteKeyFunc resolves a URL to its canonical site key.
type SiteKeyFunc func(url string) string

// Classifier labels errors and tracks per-site health windows.
type Classifier struct {
	siteKey SiteKeyFunc
	logger  *slog.Logger

	mu     sync.Mutex
	sites  map[string]*SiteHealth
	recent []*Classification
}

// New builds a classifier. siteKey maps URLs onto site names; when nil the
// raw URL is used as the key.
func New(siteKey SiteKeyFunc, logger *slog.Logger) *Classifier {
	if siteKey == nil {
		siteKey = func(url string) string { return url }
	}
	return &Classifier{
		siteKey: siteKey,
		logger:  logger.With("component", "classifier"),
		sites:   make(map[string]*SiteHealth),
	}
}

// Classify labels an error, optionally consulting page content. It is a
// pure function of its inputs: no health state is touched.
func (c *Classifier) Classify(err error, url, pageContent string) *Classification {
	site := c.siteKey(url)
	message := ""
	if err != nil {
		message = err.Error()
	}
	haystack := message
	if pageContent != "" {
		haystack += "\n" + pageContent
	}

	if sets, ok := sitePatterns[site]; ok {
		if cls := matchSets(sets, haystack, site, url, message); cls != nil {
			return cls
		}
	}
	if cls := matchSets(genericPatterns, haystack, site, url, message); cls != nil {
		return cls
	}

	return NewClassification(CategoryUnknown, site, url, message)
}

func matchSets(sets []patternSet, haystack, site, url, message string) *Classification {
	for _, set := range sets {
		for _, re := range set.patterns {
			if re.MatchString(haystack) {
				return NewClassification(set.category, site, url, message)
			}
		}
	}
	return nil
}

// RecordError classifies the error and folds it into the site's health
// window, driving the status transitions.
func (c *Classifier) RecordError(url string, err error, pageContent string) *Classification {
	cls := c.Classify(err, url, pageContent)

	c.mu.Lock()
	defer c.mu.Unlock()

	health := c.site(cls.Site)
	health.push(cls)
	health.ConsecutiveErrors++
	health.LastError = cls
	health.recoverySuccesses = 0

	switch {
	case cls.Severity == SeverityCritical:
		health.Status = StatusCritical
		health.CooldownUntil = time.Now().Add(cls.Cooldown)
		c.logger.Warn("site entered critical cooldown",
			"site", cls.Site, "category", cls.Category, "until", health.CooldownUntil)
	case health.ConsecutiveErrors >= 5:
		health.Status = StatusUnhealthy
	case cls.Severity == SeverityHigh && health.ConsecutiveErrors >= 3:
		health.Status = StatusDegraded
	}

	c.recent = append(c.recent, cls)
	if len(c.recent) > recentErrorLimit {
		c.recent = c.recent[len(c.recent)-recentErrorLimit:]
	}

	return cls
}

// RecordSuccess moves a non-healthy site to recovering, and back to healthy
// on the second consecutive success.
func (c *Classifier) RecordSuccess(url string) {
	site := c.siteKey(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	health := c.site(site)
	health.ConsecutiveErrors = 0
	health.LastSuccessAt = time.Now()

	if health.Status == StatusHealthy {
		return
	}

	health.recoverySuccesses++
	if health.recoverySuccesses >= 2 {
		health.Status = StatusHealthy
		health.CooldownUntil = time.Time{}
		health.recoverySuccesses = 0
	} else {
		health.Status = StatusRecovering
	}
}

// ShouldRetry composes the policy table with exponential backoff. The delay
// doubles per attempt and is capped at 60 s.
func (c *Classifier) ShouldRetry(err error, url string, attempt, maxAttempts int) RetryDecision {
	if attempt >= maxAttempts {
		return RetryDecision{Retry: false, Reason: "max attempts reached"}
	}

	cls := c.Classify(err, url, "")
	if !cls.Retryable {
		return RetryDecision{Retry: false, Reason: "category " + string(cls.Category) + " is not retryable"}
	}

	c.mu.Lock()
	health := c.site(cls.Site)
	inCooldown := health.Status == StatusCritical && time.Now().Before(health.CooldownUntil)
	c.mu.Unlock()

	if inCooldown {
		return RetryDecision{Retry: false, Reason: "site in critical cooldown"}
	}

	delay := cls.Cooldown
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	return RetryDecision{Retry: true, Delay: delay, Reason: "retryable " + string(cls.Category)}
}

// CooldownUntil reports the active cooldown deadline for the URL's site;
// the zero time means no cooldown.
func (c *Classifier) CooldownUntil(url string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.site(c.siteKey(url)).CooldownUntil
}

// SiteStatus returns the current status for the URL's site.
func (c *Classifier) SiteStatus(url string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.site(c.siteKey(url)).Status
}

// RecentErrors returns up to the last 10 classifications across all sites,
// newest last.
func (c *Classifier) RecentErrors() []*Classification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Classification, len(c.recent))
	copy(out, c.recent)
	return out
}

// Snapshot exposes per-site health for the health endpoint.
func (c *Classifier) Snapshot() map[string]SiteHealthView {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]SiteHealthView, len(c.sites))
	for name, h := range c.sites {
		view := SiteHealthView{
			Status:            h.Status,
			ConsecutiveErrors: h.ConsecutiveErrors,
			LastSuccessAt:     h.LastSuccessAt,
			CooldownUntil:     h.CooldownUntil,
			WindowSize:        h.count,
		}
		if h.LastError != nil {
			view.LastError = h.LastError.Message
			view.LastErrorCategory = string(h.LastError.Category)
		}
		out[name] = view
	}
	return out
}

// SiteHealthView is the read-only projection served over HTTP.
type SiteHealthView struct {
	Status            Status    `json:"status"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorCategory string    `json:"last_error_category,omitempty"`
	LastSuccessAt     time.Time `json:"last_success_at,omitempty"`
	CooldownUntil     time.Time `json:"cooldown_until,omitempty"`
	WindowSize        int       `json:"window_size"`
}

// site returns the health record for a site key, creating it on first use.
// Callers hold c.mu.
func (c *Classifier) site(name string) *SiteHealth {
	if h, ok := c.sites[name]; ok {
		return h
	}
	h := &SiteHealth{
		history: make([]*Classification, historySize),
		Status:  StatusHealthy,
	}
	c.sites[name] = h
	return h
}

func (h *SiteHealth) push(cls *Classification) {
	h.history[h.head] = cls
	h.head = (h.head + 1) % historySize
	if h.count < historySize {
		h.count++
	}
}
