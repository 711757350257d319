package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/browser"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/metrics"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/proxy"
)

const (
	// MaxProxyRetries bounds the proxied navigation rounds per job.
	MaxProxyRetries = 3

	proxyNavTimeout = 15 * time.Second
	directTimeout   = 30 * time.Second
	bodyWaitTimeout = 10 * time.Second

	antiBotDelayMin = 500 * time.Millisecond
	antiBotDelayMax = 1000 * time.Millisecond
)

// ErrNoProxies reports that every proxy round failed and direct fallback
// was not allowed.
var ErrNoProxies = errors.New("no working proxies and direct fallback disabled")

// Result is a live page handle. The caller must call Release exactly once
// on every path.
type Result struct {
	Page    playwright.Page
	Context playwright.BrowserContext
	Handle  *browser.Handle
	Proxy   *proxy.Proxy

	fetcher  *Fetcher
	released bool
}

// Content returns the page's rendered HTML.
func (r *Result) Content() (string, error) {
	return r.Page.Content()
}

// Release closes the page and context and returns the browser to the pool.
// Errors during release are logged, never raised.
func (r *Result) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true

	if r.Page != nil {
		if err := r.Page.Close(); err != nil {
			r.fetcher.logger.Debug("failed to close page", "error", err)
		}
	}
	if r.Context != nil {
		if err := r.Context.Close(); err != nil {
			r.fetcher.logger.Debug("failed to close context", "error", err)
		}
	}
	r.fetcher.pool.Release(r.Handle)
	r.fetcher.publishPoolGauges()
}

// navigateFunc opens a context + page on the handle and loads the URL.
// proxyServer is empty for direct connections. Swapped out in tests.
type navigateFunc func(ctx context.Context, h *browser.Handle, url, proxyServer string, timeout time.Duration) (playwright.Page, playwright.BrowserContext, error)

// Fetcher composes the rate limiter's schedule (applied by the caller),
// the proxy rotation and the browser pool into a single page fetch.
type Fetcher struct {
	pool    *browser.Pool
	proxies *proxy.Manager
	opts    *browser.Options
	metrics *metrics.Metrics
	logger  *slog.Logger

	navigate navigateFunc
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a fetcher over the pool and proxy manager.
func New(pool *browser.Pool, proxies *proxy.Manager, opts *browser.Options, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	if opts == nil {
		opts = browser.DefaultOptions()
	}
	f := &Fetcher{
		pool:    pool,
		proxies: proxies,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "fetcher"),
	}
	f.navigate = f.navigatePlaywright
	f.sleep = sleepCtx
	return f
}

// Fetch loads the job's URL. With UseProxy it tries up to MaxProxyRetries
// proxy rounds (refreshing the pool once if it starts empty); browser-level
// failures do not consume rounds. When every round fails and
// AllowDirectFallback is set, one direct attempt with the longer timeout is
// made.
func (f *Fetcher) Fetch(ctx context.Context, job models.ScrapeJob) (*Result, error) {
	if job.Options.AntiBotDelay {
		delay := antiBotDelayMin + time.Duration(rand.Int63n(int64(antiBotDelayMax-antiBotDelayMin)))
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	var lastErr error

	if job.Options.UseProxy {
		refreshed := false
		for attempt := 0; attempt < MaxProxyRetries; {
			p := f.proxies.Next()
			if p == nil {
				if !refreshed {
					refreshed = true
					if err := f.proxies.Refresh(ctx); err != nil {
						f.logger.Warn("proxy refresh failed", "error", err)
					}
					f.publishProxyGauges()
					continue
				}
				break
			}

			result, browserFailed, err := f.attempt(ctx, job.URL, p.Endpoint, proxyNavTimeout)
			if err == nil {
				result.Proxy = p
				f.proxies.MarkSuccess(p)
				return result, nil
			}
			if errors.Is(err, browser.ErrPoolClosed) || errors.Is(err, browser.ErrAcquireTimeout) {
				return nil, err
			}

			lastErr = err
			if browserFailed {
				// The handle died, not the proxy; the next round gets a
				// fresh browser without burning a proxy retry.
				f.logger.Warn("browser failed mid-navigation", "url", job.URL, "error", err)
				continue
			}

			f.proxies.MarkFailed(p)
			f.publishProxyGauges()
			f.logger.Info("proxy attempt failed",
				"proxy", p.Endpoint, "attempt", attempt+1, "error", err)
			attempt++
		}

		if !job.Options.AllowDirectFallback {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ErrNoProxies
		}
	}

	result, _, err := f.attempt(ctx, job.URL, "", directTimeout)
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("direct fallback failed: %w (last proxy error: %v)", err, lastErr)
		}
		return nil, err
	}
	return result, nil
}

// attempt acquires a browser and runs one navigation. The second return
// value reports a browser-level failure (dropped handle) as opposed to a
// navigation failure attributable to the route.
func (f *Fetcher) attempt(ctx context.Context, url, proxyServer string, timeout time.Duration) (*Result, bool, error) {
	handle, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	f.publishPoolGauges()

	start := time.Now()
	page, pwCtx, err := f.navigate(ctx, handle, url, proxyServer, timeout)
	if err != nil {
		browserFailed := isBrowserClosed(handle, err)
		if browserFailed {
			handle.MarkUnhealthy()
		}
		f.pool.Release(handle)
		f.publishPoolGauges()
		return nil, browserFailed, err
	}

	if proxyServer != "" && f.metrics != nil {
		f.metrics.ProxyLatency.Observe(time.Since(start).Seconds())
	}

	return &Result{
		Page:    page,
		Context: pwCtx,
		Handle:  handle,
		fetcher: f,
	}, false, nil
}

// navigatePlaywright creates a fresh context with a randomized user agent
// and consistent viewport/locale/timezone, then loads the page to
// domcontentloaded and waits for the body element.
func (f *Fetcher) navigatePlaywright(ctx context.Context, h *browser.Handle, url, proxyServer string, timeout time.Duration) (playwright.Page, playwright.BrowserContext, error) {
	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(f.opts.RandomUserAgent()),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(f.opts.Locale),
		TimezoneId:        playwright.String(f.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  f.opts.ViewportWidth,
			Height: f.opts.ViewportHeight,
		},
		ExtraHttpHeaders: f.headers(),
	}
	if proxyServer != "" {
		contextOpts.Proxy = &playwright.Proxy{Server: proxyServer}
	}

	pwCtx, err := h.Browser().NewContext(contextOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := pwCtx.NewPage()
	if err != nil {
		pwCtx.Close()
		return nil, nil, fmt.Errorf("failed to create page: %w", err)
	}

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		page.Close()
		pwCtx.Close()
		return nil, nil, fmt.Errorf("navigation failed: %w", err)
	}

	if err := page.Locator("body").WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(bodyWaitTimeout.Milliseconds())),
	}); err != nil {
		page.Close()
		pwCtx.Close()
		return nil, nil, fmt.Errorf("timeout waiting for body: %w", err)
	}

	return page, pwCtx, nil
}

// headers merges the configured Accept-Language into the extra headers.
func (f *Fetcher) headers() map[string]string {
	merged := make(map[string]string, len(f.opts.ExtraHeaders)+1)
	for k, v := range f.opts.ExtraHeaders {
		merged[k] = v
	}
	if f.opts.AcceptLanguage != "" {
		merged["Accept-Language"] = f.opts.AcceptLanguage
	}
	return merged
}

func (f *Fetcher) publishProxyGauges() {
	if f.metrics == nil {
		return
	}
	stats := f.proxies.Stats()
	f.metrics.SetProxyPool(stats.Working, stats.Failed)
}

func (f *Fetcher) publishPoolGauges() {
	if f.metrics == nil {
		return
	}
	view := f.pool.HealthCheck()
	f.metrics.SetBrowserPool(view.TotalBrowsers, view.InUse)
}

// isBrowserClosed distinguishes a dead browser from an ordinary navigation
// failure.
func isBrowserClosed(h *browser.Handle, err error) bool {
	if h.Browser() != nil && !h.Browser().IsConnected() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "browser has been closed") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "browser closed")
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
