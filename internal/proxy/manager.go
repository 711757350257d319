package proxy

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// State of a proxy endpoint within the pool.
type State string

const (
	StateWorking State = "working"
	StateFailed  State = "failed"
)

// Proxy is one upstream endpoint. Owned by the Manager; callers only read
// it.
type Proxy struct {
	Endpoint            string
	State               State
	ConsecutiveFailures int
	LastUsedAt          time.Time
}

// Stats is the point-in-time pool summary.
type Stats struct {
	Total         int       `json:"total"`
	Working       int       `json:"working"`
	Failed        int       `json:"failed"`
	LastRefreshAt time.Time `json:"last_refresh_at,omitempty"`
}

// Manager rotates a pool of upstream proxies. A single lock protects
// rotation and state transitions; all operations are O(1) except Refresh.
type Manager struct {
	source       string
	failureLimit int
	client       *http.Client
	logger       *slog.Logger

	mu            sync.Mutex
	proxies       []*Proxy
	next          int
	lastRefreshAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithFailureLimit sets how many consecutive failures move a proxy to the
// failed state.
func WithFailureLimit(n int) Option {
	return func(m *Manager) { m.failureLimit = n }
}

// WithHTTPClient overrides the client used to fetch HTTP proxy sources.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// NewManager builds a manager refreshing from source: an http(s) URL or a
// local file path, one endpoint per line.
func NewManager(source string, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		source:       source,
		failureLimit: 3,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger.With("component", "proxy_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Next hands out the next working proxy in round-robin order. A nil result
// means the working set is empty; that is a normal signal, not an error.
func (m *Manager) Next() *Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.proxies) == 0 {
		return nil
	}

	for i := 0; i < len(m.proxies); i++ {
		p := m.proxies[m.next%len(m.proxies)]
		m.next++
		if p.State == StateWorking {
			p.LastUsedAt = time.Now()
			return p
		}
	}

	return nil
}

// MarkFailed counts a failure against the proxy; past the limit it leaves
// the rotation until the next refresh.
func (m *Manager) MarkFailed(p *Proxy) {
	if p == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p.ConsecutiveFailures++
	if p.ConsecutiveFailures >= m.failureLimit && p.State != StateFailed {
		p.State = StateFailed
		m.logger.Info("proxy quarantined",
			"endpoint", p.Endpoint, "failures", p.ConsecutiveFailures)
	}
}

// MarkSuccess resets the proxy's failure counter.
func (m *Manager) MarkSuccess(p *Proxy) {
	if p == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p.ConsecutiveFailures = 0
}

// Refresh repopulates the pool from the source. Every endpoint, including
// previously failed ones, is re-admitted as working with zeroed counters.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.source == "" {
		return nil
	}

	endpoints, err := m.loadSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh proxy pool: %w", err)
	}

	seen := make(map[string]bool, len(endpoints))
	proxies := make([]*Proxy, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep == "" || seen[ep] {
			continue
		}
		seen[ep] = true
		proxies = append(proxies, &Proxy{Endpoint: ep, State: StateWorking})
	}

	m.mu.Lock()
	m.proxies = proxies
	m.next = 0
	m.lastRefreshAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("proxy pool refreshed", "count", len(proxies))
	return nil
}

// Stats summarizes the pool.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Total: len(m.proxies), LastRefreshAt: m.lastRefreshAt}
	for _, p := range m.proxies {
		if p.State == StateWorking {
			s.Working++
		} else {
			s.Failed++
		}
	}
	return s
}

func (m *Manager) loadSource(ctx context.Context) ([]string, error) {
	if strings.HasPrefix(m.source, "http://") || strings.HasPrefix(m.source, "https://") {
		return m.loadHTTP(ctx)
	}
	return m.loadFile()
}

func (m *Manager) loadHTTP(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.source, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy source returned status %d", resp.StatusCode)
	}

	return readLines(bufio.NewScanner(resp.Body))
}

func (m *Manager) loadFile() ([]string, error) {
	f, err := os.Open(m.source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readLines(bufio.NewScanner(f))
}

func readLines(scanner *bufio.Scanner) ([]string, error) {
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
