package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/predsync/internal/cache/memory"
	"github.com/alanyoungcy/predsync/internal/cache/redis"
	"github.com/alanyoungcy/predsync/internal/config"
	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/ledger"
	"github.com/alanyoungcy/predsync/internal/notify"
	"github.com/alanyoungcy/predsync/internal/portfolio"
	"github.com/alanyoungcy/predsync/internal/projection"
	"github.com/alanyoungcy/predsync/internal/reconcile"
	"github.com/alanyoungcy/predsync/internal/server/handler"
	"github.com/alanyoungcy/predsync/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger
	Ledger domain.Ledger

	// Cache
	Store       domain.CacheStore
	Projection  *projection.Projection
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Audit log; nil when Postgres is disabled.
	AuditStore domain.AuditStore

	// Services
	Engine     *reconcile.Engine
	Portfolios *portfolio.Aggregator
	Notifier   *notify.Notifier

	// Observability
	Registry     *prometheus.Registry
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs every concrete dependency from cfg and returns them with a
// cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Cache backend ---
	switch strings.ToLower(cfg.Cache.Backend) {
	case "memory":
		logger.WarnContext(ctx, "using in-process cache; state is not shared between replicas")
		deps.Store = memory.NewStore()
		deps.LockManager = memory.NewLockManager()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.SignalBus = memory.NewSignalBus()
	default:
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Store = redis.NewStore(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}
	deps.Projection = projection.New(deps.Store)
	deps.Portfolios = portfolio.NewAggregator(deps.Projection)

	// --- PostgreSQL audit log (optional) ---
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Ledger ---
	key, err := ledger.LoadKey(ledger.KeySource{
		RawPrivateKey:    cfg.Ledger.PrivateKey,
		EncryptedKeyPath: cfg.Ledger.EncryptedKeyPath,
		KeyPassword:      cfg.Ledger.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: operator key: %w", err))
	}
	ledgerClient, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:          cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		ChainID:         cfg.Ledger.ChainID,
		GasLimit:        cfg.Ledger.GasLimit,
		ReadRPS:         cfg.Ledger.ReadRPS,
		ReadBurst:       cfg.Ledger.ReadBurst,
		PollInterval:    cfg.Ledger.PollInterval.Duration,
	}, key, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	closers = append(closers, ledgerClient.Close)
	deps.Ledger = ledgerClient

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.Bus {
		senders = append(senders, notify.NewBusSender(deps.SignalBus))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	metrics := &reconcile.Metrics{}
	if cfg.Server.Metrics {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics.Register(deps.Registry)
	}

	// --- Reconciliation engine ---
	deps.Engine = reconcile.New(engineConfig(cfg.Reconcile), reconcile.Deps{
		Ledger:   deps.Ledger,
		Cache:    deps.Projection,
		Notifier: deps.Notifier,
		Audit:    deps.AuditStore,
		Bus:      deps.SignalBus,
		Locker:   deps.LockManager,
		Metrics:  metrics,
	}, logger)
	closers = append(closers, deps.Engine.Close)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("cache", cfg.Cache.Backend),
		slog.Bool("audit", deps.AuditStore != nil),
		slog.Any("notify", deps.Notifier.Senders()),
		slog.Bool("metrics", deps.Registry != nil),
	)
	return deps, cleanup, nil
}

func engineConfig(c config.ReconcileConfig) reconcile.Config {
	return reconcile.Config{
		GracePeriod:       c.GracePeriod.Duration,
		MaxAttempts:       c.MaxAttempts,
		RetryDelay:        c.RetryDelay.Duration,
		ConfirmTimeout:    c.ConfirmTimeout.Duration,
		ResyncInterval:    c.ResyncInterval.Duration,
		ResyncConcurrency: c.ResyncConcurrency,
		ResyncLockTTL:     c.ResyncLockTTL.Duration,
		DedupTTL:          c.DedupTTL.Duration,
		HandledRetention:  c.HandledRetention.Duration,
		PruneInterval:     c.PruneInterval.Duration,
	}
}
