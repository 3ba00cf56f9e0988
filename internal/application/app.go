// Package application assembles the long-lived dependencies shared by the
// server and the importctl CLI: the Postgres pool, the event publisher, the
// import service and, when configured, shipment tracking.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/stockroom/internal/config"
	"github.com/JonMunkholm/stockroom/internal/core"
	db "github.com/JonMunkholm/stockroom/internal/database"
	"github.com/JonMunkholm/stockroom/internal/events"
	"github.com/JonMunkholm/stockroom/internal/metrics"
	"github.com/JonMunkholm/stockroom/internal/tracking"
)

// App owns the resources opened by Open. Close releases them in reverse order.
type App struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	Events  core.EventPublisher
	Service *core.Service
	Logger  *slog.Logger

	// Breakers guard calls to external services, one per service name.
	Breakers *core.BreakerSet
	Metrics  *metrics.Metrics

	closers []func()
}

// Open connects to Postgres (applying the schema when configured), connects
// to NATS when a URL is set and builds the import service with its metrics. name identifies
// this process in NATS and in event envelopes.
func Open(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	pool, err := OpenPool(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)
	logger.Info("connected to database", "name", databaseName(cfg.Database.URL))

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	var publisher core.EventPublisher = events.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, name, logger)
		if err != nil {
			// Events are best effort; imports still run without them.
			logger.Warn("event publishing disabled", "error", err)
		} else {
			publisher = pub
			a.closers = append(a.closers, func() {
				if err := pub.Close(); err != nil {
					logger.Warn("nats drain failed", "error", err)
				}
			})
		}
	}

	// Every published event also feeds the Prometheus counters.
	a.Metrics = metrics.New()
	a.Events = a.Metrics.Publisher(publisher)

	a.Service = core.NewService(pool, ServiceOptions(cfg, a.Events, logger))
	a.Breakers = NewBreakerSet(&cfg.Tracking, logger)
	a.Metrics.Watch(a.Service, a.Breakers)
	return a, nil
}

// Close releases every resource, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// OpenPool parses the URL, applies pool limits and pings the database.
func OpenPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ServiceOptions maps the import configuration onto core.ServiceOptions.
func ServiceOptions(cfg *config.Config, publisher core.EventPublisher, logger *slog.Logger) core.ServiceOptions {
	imp := core.DefaultSafeImportOptions()
	imp.Concurrency = cfg.Import.Concurrency
	imp.ContinueOnError = cfg.Import.ContinueOnError
	imp.Retry.MaxRetries = cfg.Import.MaxRetries
	imp.Retry.InitialDelay = cfg.Import.InitialDelay
	imp.Retry.MaxDelay = cfg.Import.MaxDelay
	imp.Retry.BackoffMultiplier = cfg.Import.BackoffMultiplier
	imp.Logger = logger

	return core.ServiceOptions{
		Import:       &imp,
		MaxItems:     cfg.Import.MaxItems,
		EmptyRecords: core.ParseEmptyRecordPolicy(cfg.Import.EmptyRecordPolicy),
		Gate:         core.NewImportGate(cfg.Import.MaxConcurrentImports, cfg.Import.ImportWait),
		Jobs: core.NewJobManager(core.JobManagerOptions{
			MaxConcurrent: cfg.Import.MaxConcurrentJobs,
			TTL:           cfg.Import.JobTTL,
			Timeout:       cfg.Import.JobTimeout,
			Logger:        logger,
		}),
		Events: publisher,
		Logger: logger,
	}
}

// NewBreakerSet creates the breakers for external services. State changes
// are logged as warnings.
func NewBreakerSet(cfg *config.TrackingConfig, logger *slog.Logger) *core.BreakerSet {
	return core.NewBreakerSet(core.BreakerOptions{
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerReset,
		RequestTimeout:   cfg.RequestTimeout,
		OnStateChange: func(name string, from, to core.BreakerState) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
		},
	})
}

// Tracking builds the 17track client and shipment service. It returns nil
// when no API key is configured. A Redis cache is attached when REDIS_ADDR is
// set; an unreachable Redis only disables caching.
func (a *App) Tracking(ctx context.Context) *tracking.Service {
	cfg := a.Config
	if !cfg.Tracking.TrackingEnabled() {
		a.Logger.Info("shipment tracking disabled", "reason", "TRACK17_API_KEY not set")
		return nil
	}
	if a.Breakers == nil {
		a.Breakers = NewBreakerSet(&cfg.Tracking, a.Logger)
	}

	var cache *tracking.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { rdb.Close() })
		cache = tracking.NewCache(ctx, rdb, cfg.Redis.CacheTTL)
		a.Logger.Info("tracking cache", "addr", cfg.Redis.Addr, "enabled", cache.Enabled())
	}

	retry := core.DefaultRetryOptions()
	retry.MaxRetries = cfg.Tracking.MaxRetries

	client := tracking.NewClient(tracking.ClientOptions{
		APIKey:     cfg.Tracking.APIKey,
		BaseURL:    cfg.Tracking.BaseURL,
		HTTPClient: &http.Client{Timeout: 2 * cfg.Tracking.RequestTimeout},
		Breaker:    a.Breakers.Get("17track"),
		Retry:      &retry,
		Cache:      cache,
		Logger:     a.Logger,
	})

	return tracking.NewService(db.New(a.Pool), client, tracking.ServiceOptions{
		Concurrency: cfg.Tracking.SyncConcurrency,
		Events:      a.Events,
		Logger:      a.Logger,
	})
}

func databaseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
