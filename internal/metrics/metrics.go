package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every Prometheus collector the tracker exports.
type Metrics struct {
	Registry *prometheus.Registry

	ScrapeAttempts  *prometheus.CounterVec
	ScrapeDuration  *prometheus.HistogramVec
	ProductsScraped *prometheus.CounterVec
	PriceChanges    *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	Retries         prometheus.Counter

	ProxyPoolSize *prometheus.GaugeVec
	ProxyLatency  prometheus.Histogram

	BrowserPoolSize  prometheus.Gauge
	BrowserPoolInUse prometheus.Gauge

	DBPoolConnections prometheus.Gauge
	DBQueryDuration   prometheus.Histogram

	RateLimitDelay *prometheus.HistogramVec
	RateLimitHits  prometheus.Counter
}

// New constructs and registers all collectors on a dedicated registry,
// including the default Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		ScrapeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_attempts_total",
			Help: "Scrape attempts by site and outcome status.",
		}, []string{"site", "status"}),
		ScrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrape_duration_seconds",
			Help:    "End-to-end scrape duration by site.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"site"}),
		ProductsScraped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "products_scraped_total",
			Help: "Successfully extracted product records by site.",
		}, []string{"site"}),
		PriceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "price_changes_total",
			Help: "Observed price changes by site and direction.",
		}, []string{"site", "direction"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_errors_total",
			Help: "Scrape errors by classification category and site.",
		}, []string{"type", "site"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrape_retries_total",
			Help: "Retry attempts scheduled by the coordinator.",
		}),
		ProxyPoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxy_pool_size",
			Help: "Proxy pool size by state.",
		}, []string{"status"}),
		ProxyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proxy_latency_seconds",
			Help:    "Navigation latency through a proxy.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		BrowserPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "browser_pool_size",
			Help: "Browser instances currently alive.",
		}),
		BrowserPoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "browser_pool_in_use",
			Help: "Browser instances currently acquired.",
		}),
		DBPoolConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_connections",
			Help: "Open connections in the database pool.",
		}),
		DBQueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency.",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rate_limit_delay_seconds",
			Help:    "Delay applied by the per-site rate limiter.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"site"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "Requests that had to wait on the rate limiter.",
		}),
	}

	registry.MustRegister(
		m.ScrapeAttempts,
		m.ScrapeDuration,
		m.ProductsScraped,
		m.PriceChanges,
		m.Errors,
		m.Retries,
		m.ProxyPoolSize,
		m.ProxyLatency,
		m.BrowserPoolSize,
		m.BrowserPoolInUse,
		m.DBPoolConnections,
		m.DBQueryDuration,
		m.RateLimitDelay,
		m.RateLimitHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveScrape records one finished scrape attempt.
func (m *Metrics) ObserveScrape(site, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScrapeAttempts.WithLabelValues(site, status).Inc()
	m.ScrapeDuration.WithLabelValues(site).Observe(d.Seconds())
}

// IncError counts a classified failure.
func (m *Metrics) IncError(category, site string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(category, site).Inc()
}

// IncProductScraped counts a successfully extracted record.
func (m *Metrics) IncProductScraped(site string) {
	if m == nil {
		return
	}
	m.ProductsScraped.WithLabelValues(site).Inc()
}

// SetDBConnections updates the database pool gauge.
func (m *Metrics) SetDBConnections(n int) {
	if m == nil {
		return
	}
	m.DBPoolConnections.Set(float64(n))
}

// IncRetry counts a scheduled retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// SetProxyPool updates the pool gauges.
func (m *Metrics) SetProxyPool(working, failed int) {
	if m == nil {
		return
	}
	m.ProxyPoolSize.WithLabelValues("working").Set(float64(working))
	m.ProxyPoolSize.WithLabelValues("failed").Set(float64(failed))
}

// SetBrowserPool updates the browser gauges.
func (m *Metrics) SetBrowserPool(total, inUse int) {
	if m == nil {
		return
	}
	m.BrowserPoolSize.Set(float64(total))
	m.BrowserPoolInUse.Set(float64(inUse))
}

// ObserveRateLimitDelay records a limiter wait; non-zero waits also count
// as rate-limit hits.
func (m *Metrics) ObserveRateLimitDelay(site string, d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitDelay.WithLabelValues(site).Observe(d.Seconds())
	if d > 0 {
		m.RateLimitHits.Inc()
	}
}

// IncPriceChange counts a detected price movement.
func (m *Metrics) IncPriceChange(site, direction string) {
	if m == nil {
		return
	}
	m.PriceChanges.WithLabelValues(site, direction).Inc()
}
