package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/cesargomez89/catalogsync/internal/app"
	"github.com/cesargomez89/catalogsync/internal/catalog"
	"github.com/cesargomez89/catalogsync/internal/config"
	"github.com/cesargomez89/catalogsync/internal/constants"
	"github.com/cesargomez89/catalogsync/internal/guardrail"
	httpapp "github.com/cesargomez89/catalogsync/internal/http"
	"github.com/cesargomez89/catalogsync/internal/httpclient"
	"github.com/cesargomez89/catalogsync/internal/lock"
	"github.com/cesargomez89/catalogsync/internal/logger"
	"github.com/cesargomez89/catalogsync/internal/ratelimit"
	"github.com/cesargomez89/catalogsync/internal/store"
	"github.com/cesargomez89/catalogsync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Initialize DB
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		appLogger.Error("Failed to init DB", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Shared rate budget and rebuild locks live in Redis when configured, so
	// several instances stay within one provider quota.
	var (
		limiter ratelimit.Limiter
		locker  lock.Locker = lock.NewLocalLocker()
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			appLogger.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		limiter, err = ratelimit.NewRedisBucket(rdb, cfg.ProviderName, cfg.RateCapacity, cfg.RefillPerSecond(),
			ratelimit.WithMaxWait(cfg.RateMaxWait))
		if err != nil {
			appLogger.Error("Failed to init rate limiter", "error", err)
			os.Exit(1)
		}
		locker = lock.NewRedisLocker(rdb)
		appLogger.Info("Using Redis for rate limiting and locks")
	} else {
		limiter, err = ratelimit.NewTokenBucket(cfg.RateCapacity, cfg.RefillPerSecond(),
			ratelimit.WithMaxWait(cfg.RateMaxWait))
		if err != nil {
			appLogger.Error("Failed to init rate limiter", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Provider
	client := httpclient.NewClient(&http.Client{}, limiter,
		httpclient.WithMaxRetries(cfg.ProviderMaxRetries),
		httpclient.WithBackoff(cfg.RetryBase, cfg.RetryJitter),
		httpclient.WithTimeout(cfg.ProviderTimeout),
	)
	provider := catalog.NewPricingProvider(cfg.ProviderName, cfg.ProviderURL, cfg.ProviderAPIKey, client,
		catalog.WithPageSize(cfg.PageSize),
		catalog.WithBatchMax(cfg.BatchMax),
	)
	cached := catalog.NewCachedProvider(provider, db, cfg.SetCacheTTL)

	// Initialize Services
	tracker := app.NewSyncTracker(db, appLogger, app.TrackerConfig{
		Cooldown:   cfg.SyncCooldown,
		Liveness:   cfg.JobLiveness,
		MaxRetries: cfg.JobMaxRetries,
	})
	if n, err := tracker.ReapAllStale(context.Background()); err != nil {
		appLogger.Warn("Failed to reap stale jobs", "error", err)
	} else if n > 0 {
		appLogger.Info("Reaped stale jobs from previous run", "count", n)
	}

	// The guardrail compares against a fresh listing, never the cache.
	guard := guardrail.NewValidator(db, provider, appLogger)
	rebuild := app.NewRebuildService(db, provider, guard, tracker, locker, appLogger, app.RebuildConfig{
		PageSize: cfg.PageSize,
	})
	rebuild.SetCache = cached
	queue := app.NewQueueService(db, cached, tracker, appLogger)
	drainer := worker.NewDrainer(db, provider, tracker, appLogger, worker.Config{
		PageSize:      cfg.PageSize,
		MaxAttempts:   cfg.QueueMaxAttempts,
		QueueLiveness: cfg.QueueLiveness,
		Defaults: worker.DrainOptions{
			MaxConcurrency: cfg.DrainMaxConcurrency,
			MaxBatches:     cfg.DrainMaxBatches,
			BatchSize:      cfg.DrainBatchSize,
			TimeBudget:     cfg.DrainTimeBudget,
		},
	})
	supervisor := app.NewSupervisor(appLogger)

	// Initialize Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Routes
	h := httpapp.NewHandler(rebuild, queue, tracker, drainer, supervisor, db, appLogger)
	h.TriggerRPS = cfg.TriggerRateLimit
	h.DrainTimeout = cfg.DrainTimeBudget + time.Minute
	h.RegisterRoutes(r)

	// Start Server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr, "provider", cfg.ProviderName, "db_driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	if err := supervisor.Shutdown(ctx); err != nil {
		appLogger.Warn("Background tasks did not stop cleanly", "error", err)
	}

	appLogger.Info("Server exiting")
}
