package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/browser"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/classifier"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/coordinator"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/metrics"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/proxy"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/ratelimit"
)

// maxPortProbes bounds how many consecutive ports Start tries when the
// configured one is taken.
const maxPortProbes = 10

// DBChecker is the database surface the health endpoints need.
type DBChecker interface {
	Health(ctx context.Context) error
	OpenConnections() int
}

// Options wires the server to the subsystems it reports on. Nil fields
// are simply skipped in the output.
type Options struct {
	Port    int
	Metrics *metrics.Metrics
	DB      DBChecker

	PoolHealth      func() browser.HealthView
	ProxyStats      func() proxy.Stats
	LimiterSnapshot func() map[string]ratelimit.SiteStateView
	SiteHealth      func() map[string]classifier.SiteHealthView
	RecentErrors    func() []*classifier.Classification
	ScrapeStats     func() coordinator.Stats
}

// Server exposes the liveness, readiness, health and metrics endpoints.
type Server struct {
	opts      Options
	logger    *slog.Logger
	startedAt time.Time
	ready     atomic.Bool

	httpServer *http.Server
	boundPort  atomic.Int64
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	return &Server{
		opts:      opts,
		logger:    logger.With("component", "health"),
		startedAt: time.Now(),
	}
}

// SetReady flips the readiness gate once startup wiring completes.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Port reports the port the server actually bound, which can differ from
// the configured one when that was occupied.
func (s *Server) Port() int {
	return int(s.boundPort.Load())
}

// Start binds the listener and serves until Shutdown. When the configured
// port is occupied it probes the following ports before giving up.
func (s *Server) Start(ctx context.Context) error {
	var listener net.Listener
	var err error

	for i := 0; i < maxPortProbes; i++ {
		port := s.opts.Port + i
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			if i > 0 {
				s.logger.Warn("configured port occupied, using fallback",
					"configured", s.opts.Port, "port", port)
			}
			s.boundPort.Store(int64(port))
			break
		}
	}
	if listener == nil {
		return fmt.Errorf("failed to bind health server near port %d: %w", s.opts.Port, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("health server listening", "port", s.Port())
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router builds the chi handler. Exposed so tests can drive it with
// httptest without binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/live", s.handleLive)
	r.Get("/ready", s.handleReady)
	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			s.opts.Metrics.Registry, promhttp.HandlerOpts{}))
		r.Get("/metrics/json", s.handleMetricsJSON)
	}

	return r
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(s.startedAt).Seconds(),
		"pid":    os.Getpid(),
		"memory": map[string]uint64{
			"heapUsed":  mem.HeapAlloc,
			"heapTotal": mem.HeapSys,
			"rss":       mem.Sys,
		},
	})
}

// handleReady gates on three booleans: the database collaborator is
// healthy, the browser pool holds at least one handle, and the application
// finished its startup wiring. The body lists all three.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	dbReady := true
	if s.opts.DB != nil {
		dbReady = s.opts.DB.Health(r.Context()) == nil
	}

	poolReady := true
	if s.opts.PoolHealth != nil {
		view := s.opts.PoolHealth()
		poolReady = view.Healthy && view.TotalBrowsers > 0
	}

	appReady := s.ready.Load()

	ready := dbReady && poolReady && appReady
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"ready": ready,
		"checks": map[string]bool{
			"database":    dbReady,
			"browserPool": poolReady,
			"application": appReady,
		},
	})
}

// handleHealth distinguishes critical checks (database, browser pool)
// from advisory ones (proxy pool, site health): only a critical failure
// turns the response into a 503, advisory failures keep 200 but flip the
// status to degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]interface{}{}
	criticalFailed := false
	degraded := false

	if s.opts.DB != nil {
		connections := s.opts.DB.OpenConnections()
		if s.opts.Metrics != nil {
			s.opts.Metrics.SetDBConnections(connections)
		}
		dbCheck := map[string]interface{}{
			"healthy":     true,
			"connections": connections,
		}
		if err := s.opts.DB.Health(r.Context()); err != nil {
			dbCheck["healthy"] = false
			dbCheck["error"] = err.Error()
			criticalFailed = true
		}
		checks["database"] = dbCheck
	}

	if s.opts.PoolHealth != nil {
		view := s.opts.PoolHealth()
		checks["browserPool"] = view
		if !view.Healthy {
			criticalFailed = true
		}
	}

	if s.opts.ProxyStats != nil {
		stats := s.opts.ProxyStats()
		checks["proxy"] = stats
		if stats.Total > 0 && stats.Working == 0 {
			degraded = true
		}
	}

	if s.opts.LimiterSnapshot != nil {
		checks["rateLimiter"] = s.opts.LimiterSnapshot()
	}
	if s.opts.SiteHealth != nil {
		sites := s.opts.SiteHealth()
		checks["sites"] = sites
		for _, site := range sites {
			if site.Status == classifier.StatusCritical || site.Status == classifier.StatusUnhealthy {
				degraded = true
			}
		}
	}

	application := map[string]interface{}{
		"ready": s.ready.Load(),
	}
	if s.opts.ScrapeStats != nil {
		stats := s.opts.ScrapeStats()
		application["scrapeStats"] = map[string]interface{}{
			"attempted":   stats.Attempted,
			"successful":  stats.Successful,
			"successRate": stats.SuccessRate(),
		}
		var lastRun, lastSuccess interface{}
		if !stats.LastRunAt.IsZero() {
			lastRun = stats.LastRunAt.Format(time.RFC3339)
		}
		if !stats.LastOKAt.IsZero() {
			lastSuccess = stats.LastOKAt.Format(time.RFC3339)
		}
		application["lastMonitorRun"] = lastRun
		application["lastMonitorSuccess"] = lastSuccess
	}
	if s.opts.RecentErrors != nil {
		application["recentErrors"] = s.opts.RecentErrors()
	}

	status := "healthy"
	code := http.StatusOK
	if criticalFailed || degraded {
		status = "degraded"
	}
	if criticalFailed {
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"status":      status,
		"timestamp":   time.Now().Format(time.RFC3339),
		"uptime":      time.Since(s.startedAt).Seconds(),
		"checks":      checks,
		"application": application,
	})
}

// handleMetricsJSON renders the registry in a flat JSON shape for
// dashboards that do not speak the Prometheus text format.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	families, err := s.opts.Metrics.Registry.Gather()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out := make(map[string]interface{}, len(families))
	for _, family := range families {
		var series []map[string]interface{}
		for _, m := range family.GetMetric() {
			entry := map[string]interface{}{}
			labels := map[string]string{}
			for _, label := range m.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			if len(labels) > 0 {
				entry["labels"] = labels
			}
			switch {
			case m.GetCounter() != nil:
				entry["value"] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				entry["value"] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				entry["count"] = m.GetHistogram().GetSampleCount()
				entry["sum"] = m.GetHistogram().GetSampleSum()
			case m.GetSummary() != nil:
				entry["count"] = m.GetSummary().GetSampleCount()
				entry["sum"] = m.GetSummary().GetSampleSum()
			case m.GetUntyped() != nil:
				entry["value"] = m.GetUntyped().GetValue()
			}
			series = append(series, entry)
		}
		out[family.GetName()] = series
	}

	respondJSON(w, http.StatusOK, out)
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
