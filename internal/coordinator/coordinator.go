package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/classifier"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/metrics"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/sites"
)

// maxAttempts bounds the classify/retry loop per job.
const maxAttempts = 2

// Page is a fetched page the coordinator can read and must release.
type Page interface {
	Content() (string, error)
	Release()
}

// Fetcher loads a page for a job.
type Fetcher interface {
	Fetch(ctx context.Context, job models.ScrapeJob) (Page, error)
}

// Limiter is the per-site scheduler consulted before every fetch.
type Limiter interface {
	WaitForRateLimit(ctx context.Context, url string) (time.Duration, error)
	ReportSuccess(url string)
	ReportError(url string, err error)
}

// Extractor turns page HTML into a product record.
type Extractor interface {
	Extract(html, url string, entry *sites.Entry) (*models.ProductRecord, error)
}

// RecordStore persists records. SavePricePoint returns the previously
// stored price, when one exists, so price movements can be counted.
type RecordStore interface {
	SavePricePoint(ctx context.Context, record *models.ProductRecord) (prevPrice float64, hadPrev bool, err error)
}

// Stats tracks the application-level scrape counters served on /health.
type Stats struct {
	Attempted  int64     `json:"attempted"`
	Successful int64     `json:"successful"`
	LastRunAt  time.Time `json:"-"`
	LastOKAt   time.Time `json:"-"`
}

// SuccessRate is successful/attempted, 0 when nothing ran yet.
func (s Stats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Attempted)
}

// Coordinator is the top-level scrape entry point: registry lookup,
// cooldown gate, rate limit, fetch, extract, feedback, metrics.
type Coordinator struct {
	registry   *sites.Registry
	limiter    Limiter
	fetcher    Fetcher
	extractor  Extractor
	classifier *classifier.Classifier
	store      RecordStore
	metrics    *metrics.Metrics
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error

	statsMu sync.Mutex
	stats   Stats
}

// New wires a coordinator. store may be nil when persistence is handled
// elsewhere.
func New(
	registry *sites.Registry,
	limiter Limiter,
	f Fetcher,
	e Extractor,
	cls *classifier.Classifier,
	store RecordStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		registry:   registry,
		limiter:    limiter,
		fetcher:    f,
		extractor:  e,
		classifier: cls,
		store:      store,
		metrics:    m,
		logger:     logger.With("component", "coordinator"),
		sleep:      sleepCtx,
	}
}

// Scrape runs one job to completion: it returns either a validated record
// or the final classification. Exactly one of the results is non-nil.
func (c *Coordinator) Scrape(ctx context.Context, job models.ScrapeJob) (*models.ProductRecord, *classifier.Classification) {
	entry := c.registry.Detect(job.URL)
	site := c.registry.SiteKey(job.URL)
	start := time.Now()

	c.markAttempt()

	if !job.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, job.Deadline)
		defer cancel()
	}

	if until := c.classifier.CooldownUntil(job.URL); time.Now().Before(until) {
		cls := classifier.NewClassification(classifier.CategoryCooldown, site, job.URL,
			fmt.Sprintf("site in cooldown until %s", until.Format(time.RFC3339)))
		c.metrics.ObserveScrape(site, "cooldown", time.Since(start))
		c.metrics.IncError(string(cls.Category), site)
		return nil, cls
	}

	var lastCls *classifier.Classification

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		record, cls, retry := c.attempt(ctx, job, entry, site, attempt)
		if record != nil {
			c.markSuccess()
			c.metrics.ObserveScrape(site, "success", time.Since(start))
			c.metrics.IncProductScraped(site)
			return record, nil
		}

		lastCls = cls
		if !retry {
			break
		}
		c.metrics.IncRetry()
	}

	c.metrics.ObserveScrape(site, "failure", time.Since(start))
	return nil, lastCls
}

// attempt runs a single fetch+extract round. retry reports whether the
// caller should loop again (the retry delay has already been slept).
func (c *Coordinator) attempt(ctx context.Context, job models.ScrapeJob, entry *sites.Entry, site string, attempt int) (*models.ProductRecord, *classifier.Classification, bool) {
	delay, err := c.limiter.WaitForRateLimit(ctx, job.URL)
	if err != nil {
		return nil, c.timeoutClassification(site, job.URL, err), false
	}
	c.metrics.ObserveRateLimitDelay(site, delay)

	page, err := c.fetcher.Fetch(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.timeoutClassification(site, job.URL, err), false
		}
		return nil, c.failure(job.URL, err, "", site, attempt), c.retryAfter(ctx, job.URL, err, attempt)
	}

	html, err := page.Content()
	if err != nil {
		page.Release()
		return nil, c.failure(job.URL, err, "", site, attempt), c.retryAfter(ctx, job.URL, err, attempt)
	}

	record, err := c.extractor.Extract(html, job.URL, entry)
	page.Release()
	if err != nil {
		// Page text goes into classification so captcha and block pages
		// are recognized even though extraction reported a selector error.
		return nil, c.failure(job.URL, err, html, site, attempt), c.retryAfter(ctx, job.URL, err, attempt)
	}

	c.limiter.ReportSuccess(job.URL)
	c.classifier.RecordSuccess(job.URL)
	c.persist(ctx, site, record)

	return record, nil, false
}

// failure records the error with both feedback channels and counts it.
func (c *Coordinator) failure(url string, err error, pageContent, site string, attempt int) *classifier.Classification {
	cls := c.classifier.RecordError(url, err, pageContent)
	c.limiter.ReportError(url, err)
	c.metrics.IncError(string(cls.Category), site)
	c.logger.Warn("scrape attempt failed",
		"url", url, "attempt", attempt, "category", cls.Category, "error", err)
	return cls
}

// retryAfter consults the retry policy and sleeps the recommended delay.
func (c *Coordinator) retryAfter(ctx context.Context, url string, err error, attempt int) bool {
	decision := c.classifier.ShouldRetry(err, url, attempt, maxAttempts)
	if !decision.Retry {
		return false
	}
	if decision.Delay > 0 {
		if serr := c.sleep(ctx, decision.Delay); serr != nil {
			return false
		}
	}
	return true
}

func (c *Coordinator) persist(ctx context.Context, site string, record *models.ProductRecord) {
	if c.store == nil {
		return
	}

	prev, had, err := c.store.SavePricePoint(ctx, record)
	if err != nil {
		c.logger.Error("failed to persist record", "url", record.URL, "error", err)
		return
	}
	if had && prev != record.Price {
		direction := "up"
		if record.Price < prev {
			direction = "down"
		}
		c.metrics.IncPriceChange(site, direction)
	}
}

func (c *Coordinator) timeoutClassification(site, url string, err error) *classifier.Classification {
	cls := classifier.NewClassification(classifier.CategoryTimeout, site, url, err.Error())
	c.metrics.IncError(string(cls.Category), site)
	return cls
}

// ScrapeStats returns the application counters for the health surface.
func (c *Coordinator) ScrapeStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Coordinator) markAttempt() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.Attempted++
	c.stats.LastRunAt = time.Now()
}

func (c *Coordinator) markSuccess() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.Successful++
	c.stats.LastOKAt = time.Now()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
