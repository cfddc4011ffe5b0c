package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	s3blob "pricewatch/internal/blob/s3"
	"pricewatch/internal/cache/redis"
	"pricewatch/internal/config"
	"pricewatch/internal/domain"
	"pricewatch/internal/monitor"
	"pricewatch/internal/notify"
	"pricewatch/internal/source"
	"pricewatch/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Clients, kept for the health endpoint.
	DB    *postgres.Client
	Cache *redis.Client

	// Stores
	Entities   domain.EntityStore
	Conditions domain.ConditionStore
	States     domain.AlertStateStore
	History    domain.HistoryStore

	// Caches
	Prices    domain.PriceCache
	Cooldowns domain.CooldownTracker
	Locks     domain.LockManager
	Bus       domain.EventBus

	// Blob storage
	Archiver *s3blob.Archiver

	// Source adapters
	Resolver *source.Resolver

	// Notifications
	Dispatcher *notify.Dispatcher
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.DB = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Entities = postgres.NewEntityStore(pool)
	deps.Conditions = postgres.NewConditionStore(pool)
	deps.States = postgres.NewAlertStore(pool)
	deps.History = postgres.NewHistoryStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Cache = redisClient

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Cooldowns = redis.NewCooldownTracker(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)

	// --- S3 blob storage (archival only) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.History, logger)
	}

	// --- Source adapters ---
	httpClient := &http.Client{Timeout: cfg.Sources.HTTPTimeout.Duration}
	var fetchers []source.Fetcher
	if cfg.Sources.Equity {
		fetchers = append(fetchers, source.NewEquityFetcher(httpClient))
	}
	if cfg.Sources.Flight {
		fetchers = append(fetchers, source.NewFlightFetcher(httpClient))
	}
	if cfg.Sources.Shop {
		fetchers = append(fetchers, source.NewShopFetcher(httpClient))
	}
	if cfg.Sources.SoftMarket {
		fetchers = append(fetchers, source.NewRobloxFetcher(httpClient))
	}
	deps.Resolver = source.NewResolver(fetchers...)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.EmailHost != "" {
		senders = append(senders, notify.NewEmailSender(
			cfg.Notify.EmailHost,
			cfg.Notify.EmailPort,
			cfg.Notify.EmailUsername,
			cfg.Notify.EmailPassword,
			cfg.Notify.EmailFrom,
			cfg.Notify.EmailTo,
		))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Dispatcher = notify.NewDispatcher(senders, logger)

	return deps, cleanup, nil
}

// newScheduler builds the check scheduler from the wired dependencies.
func newScheduler(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *monitor.Scheduler {
	return monitor.New(
		monitor.Config{
			Tick: cfg.Monitor.Tick.Duration,
			Intervals: map[domain.Family]time.Duration{
				domain.FamilyEquity:     cfg.Monitor.EquityInterval.Duration,
				domain.FamilyFlight:     cfg.Monitor.FlightInterval.Duration,
				domain.FamilyShop:       cfg.Monitor.ShopInterval.Duration,
				domain.FamilySoftMarket: cfg.Monitor.SoftMarketInterval.Duration,
			},
			DefaultInterval: cfg.Monitor.EquityInterval.Duration,
			MaxConcurrent:   cfg.Monitor.MaxConcurrent,
			FetchTimeout:    cfg.Monitor.FetchTimeout.Duration,
			Cooldown:        cfg.Monitor.Cooldown.Duration,
			LockTTL:         cfg.Monitor.LockTTL.Duration,
		},
		monitor.Deps{
			Registry:   deps.Entities,
			Conditions: deps.Conditions,
			States:     deps.States,
			Resolver:   deps.Resolver,
			Dispatcher: deps.Dispatcher,
			History:    deps.History,
			Prices:     deps.Prices,
			Cooldowns:  deps.Cooldowns,
			Locks:      deps.Locks,
			Bus:        deps.Bus,
		},
		logger,
	)
}
