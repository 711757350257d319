package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/classifier"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/metrics"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/sites"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePage struct {
	content  string
	released int
}

func (p *fakePage) Content() (string, error) { return p.content, nil }
func (p *fakePage) Release()                 { p.released++ }

type fetchResult struct {
	page *fakePage
	err  error
}

type fakeFetcher struct {
	results []fetchResult
	calls   int
	pages   []*fakePage
}

func (f *fakeFetcher) Fetch(ctx context.Context, job models.ScrapeJob) (Page, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	r := f.results[idx]
	if r.err != nil {
		return nil, r.err
	}
	f.pages = append(f.pages, r.page)
	return r.page, nil
}

type fakeLimiter struct {
	waits     int
	successes int
	errors    int
}

func (l *fakeLimiter) WaitForRateLimit(ctx context.Context, url string) (time.Duration, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	l.waits++
	return 0, nil
}
func (l *fakeLimiter) ReportSuccess(string)      { l.successes++ }
func (l *fakeLimiter) ReportError(string, error) { l.errors++ }

type fakeExtractor struct {
	records []*models.ProductRecord
	errs    []error
	calls   int
}

func (e *fakeExtractor) Extract(html, url string, entry *sites.Entry) (*models.ProductRecord, error) {
	idx := e.calls
	e.calls++
	if idx < len(e.errs) && e.errs[idx] != nil {
		return nil, e.errs[idx]
	}
	if idx < len(e.records) {
		return e.records[idx], nil
	}
	return e.records[len(e.records)-1], nil
}

type fakeStore struct {
	saved     []*models.ProductRecord
	prevPrice float64
	hadPrev   bool
}

func (s *fakeStore) SavePricePoint(_ context.Context, record *models.ProductRecord) (float64, bool, error) {
	s.saved = append(s.saved, record)
	return s.prevPrice, s.hadPrev, nil
}

func validRecord() *models.ProductRecord {
	return &models.ProductRecord{
		Site:     "Amazon",
		Title:    "Echo Dot",
		Price:    49.99,
		Currency: "USD",
	}
}

func newTestCoordinator(f Fetcher, l Limiter, e Extractor, store RecordStore) (*Coordinator, *classifier.Classifier) {
	registry := sites.NewRegistry()
	cls := classifier.New(registry.SiteKey, testLogger())
	c := New(registry, l, f, e, cls, store, metrics.New(), testLogger())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, cls
}

func TestScrapeSuccess(t *testing.T) {
	page := &fakePage{content: "<html></html>"}
	fetch := &fakeFetcher{results: []fetchResult{{page: page}}}
	limiter := &fakeLimiter{}
	store := &fakeStore{}
	extract := &fakeExtractor{records: []*models.ProductRecord{validRecord()}}

	c, cls := newTestCoordinator(fetch, limiter, extract, store)

	record, failure := c.Scrape(context.Background(), models.ScrapeJob{
		ID:  "job-1",
		URL: "https://www.amazon.com/dp/B000",
	})

	require.Nil(t, failure)
	require.NotNil(t, record)
	assert.Equal(t, "Echo Dot", record.Title)

	assert.Equal(t, 1, fetch.calls)
	assert.Equal(t, 1, limiter.waits)
	assert.Equal(t, 1, limiter.successes)
	assert.Zero(t, limiter.errors)
	assert.Equal(t, 1, page.released)
	require.Len(t, store.saved, 1)
	assert.Equal(t, classifier.StatusHealthy, cls.SiteStatus("https://www.amazon.com/dp/B000"))

	stats := c.ScrapeStats()
	assert.Equal(t, int64(1), stats.Attempted)
	assert.Equal(t, int64(1), stats.Successful)
}

func TestScrapeWithoutMetrics(t *testing.T) {
	page := &fakePage{content: "<html></html>"}
	fetch := &fakeFetcher{results: []fetchResult{{page: page}}}
	registry := sites.NewRegistry()
	cls := classifier.New(registry.SiteKey, testLogger())
	extract := &fakeExtractor{records: []*models.ProductRecord{validRecord()}}

	c := New(registry, &fakeLimiter{}, fetch, extract, cls, nil, nil, testLogger())
	c.sleep = func(context.Context, time.Duration) error { return nil }

	record, failure := c.Scrape(context.Background(), models.ScrapeJob{
		URL: "https://www.amazon.com/dp/B000",
	})

	require.Nil(t, failure)
	require.NotNil(t, record)
}

func TestScrapeRetriesRetryableFailure(t *testing.T) {
	first := &fakePage{content: "<html><body>broken layout</body></html>"}
	second := &fakePage{content: "<html></html>"}
	fetch := &fakeFetcher{results: []fetchResult{{page: first}, {page: second}}}
	limiter := &fakeLimiter{}
	extract := &fakeExtractor{
		errs:    []error{errors.New("selector failed: no price matched for Amazon"), nil},
		records: []*models.ProductRecord{nil, validRecord()},
	}

	c, _ := newTestCoordinator(fetch, limiter, extract, nil)

	record, failure := c.Scrape(context.Background(), models.ScrapeJob{
		URL: "https://www.amazon.com/dp/B000",
	})

	require.Nil(t, failure)
	require.NotNil(t, record)
	assert.Equal(t, 2, fetch.calls)
	assert.Equal(t, 2, limiter.waits)
	assert.Equal(t, 1, limiter.errors)
	assert.Equal(t, 1, limiter.successes)
	assert.Equal(t, 1, first.released)
	assert.Equal(t, 1, second.released)
}

func TestScrapeStopsOnNonRetryable(t *testing.T) {
	fetch := &fakeFetcher{results: []fetchResult{{err: errors.New("navigation failed: 404 page not found")}}}
	limiter := &fakeLimiter{}
	extract := &fakeExtractor{records: []*models.ProductRecord{validRecord()}}

	c, _ := newTestCoordinator(fetch, limiter, extract, nil)

	record, failure := c.Scrape(context.Background(), models.ScrapeJob{
		URL: "https://www.amazon.com/dp/B000",
	})

	require.Nil(t, record)
	require.NotNil(t, failure)
	assert.Equal(t, classifier.CategoryNotFound, failure.Category)
	assert.Equal(t, 1, fetch.calls)
}

func TestScrapeGivesUpAfterMaxAttempts(t *testing.T) {
	fetch := &fakeFetcher{results: []fetchResult{{err: errors.New("navigation timed out")}}}
	limiter := &fakeLimiter{}
	extract := &fakeExtractor{records: []*models.ProductRecord{validRecord()}}

	c, _ := newTestCoordinator(fetch, limiter, extract, nil)

	record, failure := c.Scrape(context.Background(), models.ScrapeJob{
		URL: "https://www.amazon.com/dp/B000",
	})

	require.Nil(t, record)
	require.NotNil(t, failure)
	assert.Equal(t, classifier.CategoryTimeout, failure.Category)
	assert.Equal(t, maxAttempts, fetch.calls)
	assert.Equal(t, maxAttempts, limiter.errors)
}

func TestScrapeCaptchaPageTriggersCriticalCooldown(t *testing.T) {
	page := &fakePage{content: "<html><body>Robot Check. Enter the characters you see below.</body></html>"}
	fetch := &fakeFetcher{results: []fetchResult{{page: page}}}
	limiter := &fakeLimiter{}
	extract := &fakeExtractor{errs: []error{errors.New("selector failed: no title matched for Amazon")}}

	c, cls := newTestCoordinator(fetch, limiter, extract, nil)
	url := "https://www.amazon.com/dp/B000"

	record, failure := c.Scrape(context.Background(), models.ScrapeJob{URL: url})

	require.Nil(t, record)
	require.NotNil(t, failure)
	assert.Equal(t, classifier.CategoryCaptcha, failure.Category)
	assert.Equal(t, 1, fetch.calls)
	assert.Equal(t, classifier.StatusCritical, cls.SiteStatus(url))
	assert.Equal(t, 1, page.released)

	// The cooldown gate now fast-fails follow-up jobs for the same site.
	record, failure = c.Scrape(context.Background(), models.ScrapeJob{URL: url})
	require.Nil(t, record)
	require.NotNil(t, failure)
	assert.Equal(t, classifier.CategoryCooldown, failure.Category)
	assert.Equal(t, 1, fetch.calls)
}

func TestScrapeExpiredDeadline(t *testing.T) {
	fetch := &fakeFetcher{results: []fetchResult{{page: &fakePage{}}}}
	limiter := &fakeLimiter{}
	extract := &fakeExtractor{records: []*models.ProductRecord{validRecord()}}

	c, _ := newTestCoordinator(fetch, limiter, extract, nil)

	record, failure := c.Scrape(context.Background(), models.ScrapeJob{
		URL:      "https://www.amazon.com/dp/B000",
		Deadline: time.Now().Add(-time.Second),
	})

	require.Nil(t, record)
	require.NotNil(t, failure)
	assert.Equal(t, classifier.CategoryTimeout, failure.Category)
	assert.Zero(t, fetch.calls)
}

func TestScrapeStatsSuccessRate(t *testing.T) {
	var s Stats
	assert.Zero(t, s.SuccessRate())

	s = Stats{Attempted: 4, Successful: 3}
	assert.InDelta(t, 0.75, s.SuccessRate(), 0.0001)
}
