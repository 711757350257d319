package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/browser"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/classifier"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/config"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/coordinator"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/database"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/extractor"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/fetcher"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/health"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/jobqueue"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/metrics"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/proxy"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/ratelimit"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/sites"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tracker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	m := metrics.New()
	registry := sites.NewRegistry()

	// Database is a collaborator, not a hard dependency: scraping keeps
	// running without persistence and /health reports the outage.
	var db *database.DB
	var store coordinator.RecordStore
	dbConn, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		log.Error("database unavailable, continuing without persistence", "error", err)
	} else {
		db = dbConn
		store = database.NewStore(db, m)
		defer db.Close()
	}

	queue, err := buildQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer queue.Close()

	proxies := proxy.NewManager(cfg.Proxy.Source, log,
		proxy.WithFailureLimit(cfg.Proxy.FailureLimit))
	if cfg.Proxy.Source != "" {
		if err := proxies.Refresh(ctx); err != nil {
			log.Warn("initial proxy load failed", "error", err)
		}
	}

	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.Timeout = cfg.Browser.Timeout
	browserOpts.ViewportWidth = cfg.Browser.ViewportWidth
	browserOpts.ViewportHeight = cfg.Browser.ViewportHeight
	browserOpts.AcceptLanguage = cfg.Browser.AcceptLanguage
	browserOpts.TimezoneID = cfg.Browser.TimezoneID
	browserOpts.Locale = cfg.Browser.Locale

	pool := browser.NewPool(cfg.Browser.PoolSize, browserOpts, log)
	defer pool.CloseAll()

	limiter := ratelimit.New(registry.RateProfileFor, registry.SiteKey, log)
	cls := classifier.New(registry.SiteKey, log)
	fetch := fetcher.New(pool, proxies, browserOpts, m, log)
	extract := extractor.New(log)

	coord := coordinator.New(registry, limiter, coordinator.WrapFetcher(fetch),
		extract, cls, store, m, log)

	healthServer := health.NewServer(health.Options{
		Port:            cfg.Health.Port,
		Metrics:         m,
		DB:              dbChecker(db),
		PoolHealth:      pool.HealthCheck,
		ProxyStats:      proxies.Stats,
		LimiterSnapshot: limiter.Snapshot,
		SiteHealth:      cls.Snapshot,
		RecentErrors:    cls.RecentErrors,
		ScrapeStats:     coord.ScrapeStats,
	}, log)

	healthErr := make(chan error, 1)
	go func() {
		healthErr <- healthServer.Start(ctx)
	}()

	if cfg.Proxy.Source != "" {
		go refreshProxies(ctx, proxies, cfg.Proxy.RefreshInterval, log)
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Scraper.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(ctx, worker, queue, coord, cfg, log)
		}(i + 1)
	}

	healthServer.SetReady(true)
	log.Info("price tracker started",
		"workers", cfg.Scraper.Workers,
		"browser_pool", cfg.Browser.PoolSize,
		"queue", cfg.Queue.Type,
		"health_port", healthServer.Port())

	<-ctx.Done()
	healthServer.SetReady(false)

	queue.Close()
	wg.Wait()
	pool.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Health.ShutdownTimeout)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error("health server shutdown failed", "error", err)
	}
	<-healthErr

	log.Info("price tracker stopped")
	return nil
}

func buildQueue(ctx context.Context, cfg *config.Config, log *slog.Logger) (jobqueue.Queue, error) {
	if cfg.Queue.Type != "redis" {
		return jobqueue.NewMemory(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	hostname, _ := os.Hostname()
	consumer := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return jobqueue.NewRedis(ctx, client, cfg.Redis.Stream, cfg.Redis.Group, consumer, log)
}

func runWorker(ctx context.Context, id int, queue jobqueue.Queue, coord *coordinator.Coordinator, cfg *config.Config, log *slog.Logger) {
	workerLog := log.With("component", "worker", "worker", id)

	for {
		job, err := queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, jobqueue.ErrQueueClosed) {
				workerLog.Info("worker stopping")
				return
			}
			workerLog.Error("failed to pop job", "error", err)
			continue
		}

		if job.Deadline.IsZero() && cfg.Scraper.JobTimeout > 0 {
			job.Deadline = time.Now().Add(cfg.Scraper.JobTimeout)
		}
		if job.Options == (models.JobOptions{}) {
			job.Options = models.DefaultJobOptions()
		}
		job.Options.UseProxy = job.Options.UseProxy && cfg.Scraper.UseProxy
		job.Options.AntiBotDelay = job.Options.AntiBotDelay && cfg.Scraper.AntiBotDelay

		record, failure := coord.Scrape(ctx, job)
		if failure != nil {
			workerLog.Warn("job failed",
				"job_id", job.ID, "url", job.URL,
				"category", failure.Category, "severity", failure.Severity)
			continue
		}

		workerLog.Info("job completed",
			"job_id", job.ID, "url", job.URL,
			"title", record.Title, "price", record.Price, "currency", record.Currency)
	}
}

func refreshProxies(ctx context.Context, proxies *proxy.Manager, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := proxies.Refresh(ctx); err != nil {
				log.Warn("scheduled proxy refresh failed", "error", err)
			}
		}
	}
}

// dbChecker avoids handing the health server a typed nil.
func dbChecker(db *database.DB) health.DBChecker {
	if db == nil {
		return nil
	}
	return db
}
