package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/sites"
)

const maxBackoffLevel = 5.0

var rateLimitSignal = regexp.MustCompile(`(?i)\b429\b|\b503\b|too many requests|rate.?limit`)

// ProfileFunc resolves the rate-limit profile for a URL.
type ProfileFunc func(url string) sites.RateLimitProfile

// SiteKeyFunc resolves a URL to its canonical site key.
type SiteKeyFunc func(url string) string

// siteState is the mutable per-site scheduling state. Its mutex is held
// only around state reads/writes, never across the sleep.
type siteState struct {
	mu                sync.Mutex
	lastRequestAt     time.Time
	minuteBucket      time.Time
	requestsInMinute  int
	backoffLevel      float64
	consecutiveErrors int
}

// Limiter schedules requests per site: a randomized base delay scaled by an
// adaptive backoff exponent, plus a per-minute request budget.
type Limiter struct {
	profileFor ProfileFunc
	siteKey    SiteKeyFunc
	logger     *slog.Logger

	mu     sync.Mutex
	states map[string]*siteState
}

// New builds a limiter. profileFor and siteKey usually come from the site
// registry.
func New(profileFor ProfileFunc, siteKey SiteKeyFunc, logger *slog.Logger) *Limiter {
	if siteKey == nil {
		siteKey = func(url string) string { return url }
	}
	return &Limiter{
		profileFor: profileFor,
		siteKey:    siteKey,
		logger:     logger.With("component", "rate_limiter"),
		states:     make(map[string]*siteState),
	}
}

// WaitForRateLimit sleeps until the site's schedule allows the next request
// and returns the delay actually applied. The per-site lock is released
// during the sleep and reacquired to stamp lastRequestAt, so a long wait
// never blocks other callers.
func (l *Limiter) WaitForRateLimit(ctx context.Context, url string) (time.Duration, error) {
	profile := l.profileFor(url)
	st := l.state(l.siteKey(url))

	st.mu.Lock()
	required := l.requiredDelay(profile, st.backoffLevel)
	var wait time.Duration
	if !st.lastRequestAt.IsZero() {
		elapsed := time.Since(st.lastRequestAt)
		if elapsed < required {
			wait = required - elapsed
		}
	}
	st.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	st.mu.Lock()
	now := time.Now()
	minute := now.Truncate(time.Minute)
	if !minute.Equal(st.minuteBucket) {
		st.minuteBucket = minute
		st.requestsInMinute = 0
	}
	st.requestsInMinute++
	if st.requestsInMinute == profile.MaxRequestsPerMinute {
		st.backoffLevel = math.Min(maxBackoffLevel, st.backoffLevel+1)
		l.logger.Info("per-minute budget reached, raising backoff",
			"site", l.siteKey(url), "level", st.backoffLevel)
	}
	st.lastRequestAt = now
	st.mu.Unlock()

	return wait, nil
}

// ReportSuccess decays the site's backoff level by half a step.
func (l *Limiter) ReportSuccess(url string) {
	st := l.state(l.siteKey(url))

	st.mu.Lock()
	defer st.mu.Unlock()

	st.consecutiveErrors = 0
	st.backoffLevel = math.Max(0, st.backoffLevel-0.5)
}

// ReportError raises the backoff level: two steps on a rate-limit signal
// (HTTP 429/503), one step after three consecutive errors of any kind.
func (l *Limiter) ReportError(url string, err error) {
	st := l.state(l.siteKey(url))

	st.mu.Lock()
	defer st.mu.Unlock()

	st.consecutiveErrors++

	if err != nil && rateLimitSignal.MatchString(err.Error()) {
		st.backoffLevel = math.Min(maxBackoffLevel, st.backoffLevel+2)
	} else if st.consecutiveErrors >= 3 {
		st.backoffLevel = math.Min(maxBackoffLevel, st.backoffLevel+1)
	}
}

// BackoffLevel returns the current backoff level for the URL's site.
func (l *Limiter) BackoffLevel(url string) float64 {
	st := l.state(l.siteKey(url))

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.backoffLevel
}

// SiteStateView is the read-only projection for the health surface.
type SiteStateView struct {
	BackoffLevel      float64   `json:"backoff_level"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	RequestsInMinute  int       `json:"requests_in_minute"`
	LastRequestAt     time.Time `json:"last_request_at,omitempty"`
}

// Snapshot exposes per-site limiter state.
func (l *Limiter) Snapshot() map[string]SiteStateView {
	l.mu.Lock()
	statesCopy := make(map[string]*siteState, len(l.states))
	for k, v := range l.states {
		statesCopy[k] = v
	}
	l.mu.Unlock()

	out := make(map[string]SiteStateView, len(statesCopy))
	for k, st := range statesCopy {
		st.mu.Lock()
		out[k] = SiteStateView{
			BackoffLevel:      st.backoffLevel,
			ConsecutiveErrors: st.consecutiveErrors,
			RequestsInMinute:  st.requestsInMinute,
			LastRequestAt:     st.lastRequestAt,
		}
		st.mu.Unlock()
	}
	return out
}

// requiredDelay draws a randomized base delay from [min, max] and scales it
// by multiplier^backoffLevel, capped at the profile's maximum.
func (l *Limiter) requiredDelay(p sites.RateLimitProfile, level float64) time.Duration {
	base := p.MinDelay
	if p.MaxDelay > p.MinDelay {
		base += time.Duration(rand.Int63n(int64(p.MaxDelay - p.MinDelay)))
	}

	scaled := time.Duration(float64(base) * math.Pow(p.BackoffMultiplier, level))
	if p.MaxBackoffDelay > 0 && scaled > p.MaxBackoffDelay {
		scaled = p.MaxBackoffDelay
	}
	return scaled
}

func (l *Limiter) state(site string) *siteState {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.states[site]; ok {
		return st
	}
	st := &siteState{}
	l.states[site] = st
	return st
}
