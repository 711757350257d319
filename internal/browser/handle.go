package browser

import (
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// HandleState tracks where a handle sits in the pool's lifecycle.
type HandleState int

const (
	StateIdle HandleState = iota
	StateInUse
	StateClosing
)

// Handle is an opaque reference to one headless browser instance. A handle
// is uniquely owned by its caller between Acquire and Release; at most one
// in-flight page load runs per handle.
type Handle struct {
	id      int
	browser playwright.Browser

	mu          sync.Mutex
	state       HandleState
	lastUsedAt  time.Time
	pagesServed int
	unhealthy   bool
}

// Browser exposes the underlying playwright browser for context creation.
func (h *Handle) Browser() playwright.Browser {
	return h.browser
}

// ID identifies the handle in logs.
func (h *Handle) ID() int {
	return h.id
}

// MarkUnhealthy flags the handle so the pool drops it on release.
func (h *Handle) MarkUnhealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthy = true
}

// Healthy reports whether the handle can serve another page load. A handle
// whose underlying browser has disconnected is never handed out again.
func (h *Handle) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.unhealthy || h.state == StateClosing {
		return false
	}
	if h.browser != nil && !h.browser.IsConnected() {
		return false
	}
	return true
}

// PagesServed counts completed page loads on this handle.
func (h *Handle) PagesServed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pagesServed
}

// LastUsedAt is the time of the most recent release.
func (h *Handle) LastUsedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsedAt
}

func (h *Handle) setState(s HandleState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

func (h *Handle) recordUse() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pagesServed++
	h.lastUsedAt = time.Now()
}

// close tears down the underlying browser. Errors are returned for logging
// only; a failed close never propagates to callers.
func (h *Handle) close() error {
	h.setState(StateClosing)
	if h.browser == nil {
		return nil
	}
	if err := h.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser %d: %w", h.id, err)
	}
	return nil
}
