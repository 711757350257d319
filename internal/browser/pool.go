package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

var (
	// ErrPoolClosed is returned by Acquire after CloseAll.
	ErrPoolClosed = errors.New("browser pool is closed")
	// ErrAcquireTimeout is returned when the caller's deadline passes while
	// waiting for an idle handle.
	ErrAcquireTimeout = errors.New("timed out waiting for a browser")
)

// LaunchFunc creates one browser handle. Tests substitute a fake.
type LaunchFunc func() (*Handle, error)

// Pool is a bounded pool of long-lived headless browser instances.
// Instances are created lazily up to size; waiters are served FIFO through
// the idle channel.
type Pool struct {
	size   int
	opts   *Options
	launch LaunchFunc
	logger *slog.Logger

	pwOnce sync.Once
	pw     *playwright.Playwright
	pwErr  error

	mu          sync.Mutex
	total       int
	inUse       int
	closing     int
	nextID      int
	closed      bool
	initialized bool
	waiting     int

	idle     chan *Handle
	closedCh chan struct{}
}

// NewPool builds a pool of at most size instances. No browser is launched
// until the first Acquire.
func NewPool(size int, opts *Options, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	p := &Pool{
		size:     size,
		opts:     opts,
		logger:   logger.With("component", "browser_pool"),
		idle:     make(chan *Handle, size),
		closedCh: make(chan struct{}),
	}
	p.launch = p.launchPlaywright
	return p
}

// NewPoolWithLauncher builds a pool around a custom launcher. Used by tests
// to avoid real browsers.
func NewPoolWithLauncher(size int, launch LaunchFunc, logger *slog.Logger) *Pool {
	p := NewPool(size, nil, logger)
	p.launch = launch
	return p
}

// Acquire returns an idle handle, creating one while the pool is under
// size, otherwise waiting FIFO until a handle is released or ctx expires.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		select {
		case h := <-p.idle:
			if !h.Healthy() {
				p.discardLocked(h)
				p.mu.Unlock()
				continue
			}
			p.inUse++
			p.mu.Unlock()
			h.setState(StateInUse)
			return h, nil
		default:
		}

		if p.total < p.size {
			p.total++
			p.nextID++
			id := p.nextID
			p.mu.Unlock()

			h, err := p.launch()
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("failed to launch browser: %w", err)
			}
			h.id = id

			p.mu.Lock()
			if p.closed {
				p.total--
				p.mu.Unlock()
				if cerr := h.close(); cerr != nil {
					p.logger.Error("failed to close browser during shutdown", "error", cerr)
				}
				return nil, ErrPoolClosed
			}
			p.inUse++
			p.initialized = true
			p.mu.Unlock()

			h.setState(StateInUse)
			p.logger.Info("launched browser", "id", id, "total", p.Total())
			return h, nil
		}

		p.waiting++
		p.mu.Unlock()

		select {
		case h := <-p.idle:
			p.mu.Lock()
			p.waiting--
			if !h.Healthy() {
				p.discardLocked(h)
				p.mu.Unlock()
				continue
			}
			if p.closed {
				p.discardLocked(h)
				p.mu.Unlock()
				return nil, ErrPoolClosed
			}
			p.inUse++
			p.mu.Unlock()
			h.setState(StateInUse)
			return h, nil
		case <-ctx.Done():
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrAcquireTimeout, ctx.Err())
		case <-p.closedCh:
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
	}
}

// Release returns the handle to the idle set. The handle is always
// validated: a disconnected or flagged browser is dropped, and its slot is
// recreated lazily on the next Acquire.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	p.inUse--

	if p.closed {
		p.discardLocked(h)
		p.mu.Unlock()
		return
	}

	if !h.Healthy() {
		p.discardLocked(h)
		p.mu.Unlock()
		p.logger.Info("dropped unhealthy browser", "id", h.ID(), "total", p.Total())
		return
	}

	h.recordUse()
	h.setState(StateIdle)
	p.idle <- h
	p.mu.Unlock()
}

// CloseAll shuts the pool down. Idempotent; Acquire calls made afterwards
// fail with ErrPoolClosed.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.closedCh)
	p.mu.Unlock()

	for {
		select {
		case h := <-p.idle:
			p.mu.Lock()
			p.discardLocked(h)
			p.mu.Unlock()
		default:
			if p.pw != nil {
				if err := p.pw.Stop(); err != nil {
					p.logger.Error("failed to stop playwright", "error", err)
				}
			}
			p.logger.Info("browser pool closed")
			return
		}
	}
}

// HealthView is the pool snapshot for the health surface.
type HealthView struct {
	Initialized   bool     `json:"initialized"`
	Healthy       bool     `json:"healthy"`
	TotalBrowsers int      `json:"total_browsers"`
	Available     int      `json:"available"`
	InUse         int      `json:"in_use"`
	Waiting       int      `json:"waiting"`
	Issues        []string `json:"issues,omitempty"`
}

// HealthCheck summarizes pool accounting. The pool is healthy when it is
// open and has capacity for at least one handle.
func (p *Pool) HealthCheck() HealthView {
	p.mu.Lock()
	defer p.mu.Unlock()

	view := HealthView{
		Initialized:   p.initialized,
		TotalBrowsers: p.total,
		Available:     len(p.idle),
		InUse:         p.inUse,
		Waiting:       p.waiting,
	}

	if p.closed {
		view.Issues = append(view.Issues, "pool is closed")
	}
	if p.pwErr != nil {
		view.Issues = append(view.Issues, p.pwErr.Error())
	}
	view.Healthy = len(view.Issues) == 0

	return view
}

// Total reports how many browser instances currently exist.
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Size is the configured maximum.
func (p *Pool) Size() int {
	return p.size
}

// discardLocked removes a handle from the pool accounting and tears it
// down. Callers hold p.mu.
func (p *Pool) discardLocked(h *Handle) {
	p.total--
	go func() {
		if err := h.close(); err != nil {
			p.logger.Error("failed to close browser", "id", h.ID(), "error", err)
		}
	}()
}

// launchPlaywright is the production launcher: one shared playwright
// runtime, one Chromium process per handle.
func (p *Pool) launchPlaywright() (*Handle, error) {
	p.pwOnce.Do(func() {
		p.pw, p.pwErr = playwright.Run()
	})
	if p.pwErr != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", p.pwErr)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(p.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
		},
	}

	b, err := p.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	return &Handle{browser: b}, nil
}
