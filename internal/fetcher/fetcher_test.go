package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/browser"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/proxy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPool(t *testing.T) *browser.Pool {
	t.Helper()
	p := browser.NewPoolWithLauncher(2, func() (*browser.Handle, error) {
		return &browser.Handle{}, nil
	}, testLogger())
	t.Cleanup(p.CloseAll)
	return p
}

func testProxies(t *testing.T, endpoints string) *proxy.Manager {
	t.Helper()
	source := ""
	if endpoints != "" {
		source = filepath.Join(t.TempDir(), "proxies.txt")
		require.NoError(t, os.WriteFile(source, []byte(endpoints), 0o644))
	}
	m := proxy.NewManager(source, testLogger())
	if source != "" {
		require.NoError(t, m.Refresh(context.Background()))
	}
	return m
}

func testFetcher(t *testing.T, endpoints string) *Fetcher {
	f := New(testPool(t), testProxies(t, endpoints), nil, nil, testLogger())
	f.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func proxyJob(url string) models.ScrapeJob {
	return models.ScrapeJob{
		URL: url,
		Options: models.JobOptions{
			UseProxy:            true,
			AllowDirectFallback: true,
		},
	}
}

func TestFetchThroughProxy(t *testing.T) {
	f := testFetcher(t, "http://10.0.0.1:8080\n")

	var usedProxy string
	f.navigate = func(_ context.Context, _ *browser.Handle, _, proxyServer string, timeout time.Duration) (playwright.Page, playwright.BrowserContext, error) {
		usedProxy = proxyServer
		assert.Equal(t, proxyNavTimeout, timeout)
		return nil, nil, nil
	}

	result, err := f.Fetch(context.Background(), proxyJob("https://shop.example.com/p/1"))
	require.NoError(t, err)
	require.NotNil(t, result.Proxy)
	assert.Equal(t, "http://10.0.0.1:8080", result.Proxy.Endpoint)
	assert.Equal(t, "http://10.0.0.1:8080", usedProxy)
	result.Release()
}

func TestFetchFallsBackToDirect(t *testing.T) {
	f := testFetcher(t, "http://10.0.0.1:8080\nhttp://10.0.0.2:8080\n")

	var attempts []string
	f.navigate = func(_ context.Context, _ *browser.Handle, _, proxyServer string, timeout time.Duration) (playwright.Page, playwright.BrowserContext, error) {
		attempts = append(attempts, proxyServer)
		if proxyServer != "" {
			return nil, nil, errors.New("navigation failed: 403 Forbidden")
		}
		assert.Equal(t, directTimeout, timeout)
		return nil, nil, nil
	}

	result, err := f.Fetch(context.Background(), proxyJob("https://shop.example.com/p/2"))
	require.NoError(t, err)
	assert.Nil(t, result.Proxy)
	result.Release()

	// Three proxy rounds, then one direct attempt.
	require.Len(t, attempts, 4)
	assert.Equal(t, "", attempts[3])
}

func TestFetchNoFallbackReturnsLastError(t *testing.T) {
	f := testFetcher(t, "http://10.0.0.1:8080\n")

	f.navigate = func(context.Context, *browser.Handle, string, string, time.Duration) (playwright.Page, playwright.BrowserContext, error) {
		return nil, nil, errors.New("navigation failed: 403 Forbidden")
	}

	job := proxyJob("https://shop.example.com/p/3")
	job.Options.AllowDirectFallback = false

	_, err := f.Fetch(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFetchEmptyPoolWithoutFallback(t *testing.T) {
	f := testFetcher(t, "")

	f.navigate = func(context.Context, *browser.Handle, string, string, time.Duration) (playwright.Page, playwright.BrowserContext, error) {
		t.Fatal("navigate must not be called without proxies or fallback")
		return nil, nil, nil
	}

	job := proxyJob("https://shop.example.com/p/4")
	job.Options.AllowDirectFallback = false

	_, err := f.Fetch(context.Background(), job)
	assert.ErrorIs(t, err, ErrNoProxies)
}

func TestFetchBrowserFailureDoesNotConsumeProxyRound(t *testing.T) {
	f := testFetcher(t, "http://10.0.0.1:8080\n")

	calls := 0
	f.navigate = func(context.Context, *browser.Handle, string, string, time.Duration) (playwright.Page, playwright.BrowserContext, error) {
		calls++
		if calls == 1 {
			return nil, nil, errors.New("browser has been closed")
		}
		return nil, nil, nil
	}

	result, err := f.Fetch(context.Background(), proxyJob("https://shop.example.com/p/5"))
	require.NoError(t, err)
	require.NotNil(t, result.Proxy)
	result.Release()

	// The proxy was not blamed for the dead browser.
	assert.Zero(t, result.Proxy.ConsecutiveFailures)
	stats := f.proxies.Stats()
	assert.Equal(t, 1, stats.Working)
}

func TestFetchMarksFailedProxies(t *testing.T) {
	f := testFetcher(t, "http://10.0.0.1:8080\n")

	f.navigate = func(_ context.Context, _ *browser.Handle, _, proxyServer string, _ time.Duration) (playwright.Page, playwright.BrowserContext, error) {
		if proxyServer != "" {
			return nil, nil, errors.New("navigation failed: timeout")
		}
		return nil, nil, nil
	}

	result, err := f.Fetch(context.Background(), proxyJob("https://shop.example.com/p/6"))
	require.NoError(t, err)
	result.Release()

	stats := f.proxies.Stats()
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Working)
}

func TestFetchAntiBotDelay(t *testing.T) {
	f := testFetcher(t, "")

	var slept time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	f.navigate = func(context.Context, *browser.Handle, string, string, time.Duration) (playwright.Page, playwright.BrowserContext, error) {
		return nil, nil, nil
	}

	job := models.ScrapeJob{
		URL:     "https://shop.example.com/p/7",
		Options: models.DefaultJobOptions(),
	}

	result, err := f.Fetch(context.Background(), job)
	require.NoError(t, err)
	result.Release()

	assert.GreaterOrEqual(t, slept, antiBotDelayMin)
	assert.LessOrEqual(t, slept, antiBotDelayMax)
}

func TestResultReleaseIsIdempotent(t *testing.T) {
	f := testFetcher(t, "")
	f.navigate = func(context.Context, *browser.Handle, string, string, time.Duration) (playwright.Page, playwright.BrowserContext, error) {
		return nil, nil, nil
	}

	job := proxyJob("https://shop.example.com/p/8")
	job.Options.UseProxy = false

	result, err := f.Fetch(context.Background(), job)
	require.NoError(t, err)

	result.Release()
	result.Release()

	// The handle is back in the pool: the next fetch succeeds immediately.
	again, err := f.Fetch(context.Background(), job)
	require.NoError(t, err)
	again.Release()
}
