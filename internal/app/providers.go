package app

import (
	"fmt"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	// Domains
	"github.com/iconforge/server/internal/domain/billing"
	"github.com/iconforge/server/internal/domain/credit"
	"github.com/iconforge/server/internal/worker"

	// Inbound adapters
	ginadapter "github.com/iconforge/server/internal/adapter/inbound/gin"

	// Ports
	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/inbound"
	"github.com/iconforge/server/internal/port/outbound"

	// Outbound adapters
	"github.com/iconforge/server/internal/adapter/outbound/memory"
	"github.com/iconforge/server/internal/adapter/outbound/postgres"
	redisadapter "github.com/iconforge/server/internal/adapter/outbound/redis"
	stripeadapter "github.com/iconforge/server/internal/adapter/outbound/stripe"
	"github.com/iconforge/server/internal/adapter/outbound/token"

	// Shared
	"github.com/iconforge/server/internal/shared/cache"
	"github.com/iconforge/server/internal/shared/config"
	"github.com/iconforge/server/internal/shared/database"
	"github.com/iconforge/server/internal/shared/httpclient"
	"github.com/iconforge/server/internal/shared/logger"
	"github.com/iconforge/server/internal/shared/metrics"
)

// Stores groups the storage ports of the configured driver.
type Stores struct {
	Accounts      outbound.CreditAccountDatabasePort
	UpdateLogs    outbound.CreditUpdateLogDatabasePort
	Subscriptions outbound.SubscriptionDatabasePort
	WebhookEvents outbound.WebhookEventDatabasePort
}

// Dependencies holds all injected dependencies.
type Dependencies struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    goredis.UniversalClient
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Stores   *Stores
	Locker   outbound.LockPort
	JWT      outbound.JWTPort

	// Domains
	CreditDomain  *credit.Domain
	BillingDomain *billing.Domain

	// Workers
	Runner *worker.Runner

	// HTTP adapters
	CreditsHandler inbound.CreditsHttpPort
	BillingHandler inbound.BillingHttpPort
	WebhookHandler inbound.WebhookHttpPort
	CronHandler    inbound.CronHttpPort
}

// ===== Infrastructure Providers =====

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	ProvideMetrics,
	ProvideDatabase,
	ProvideStores,
	ProvideRedisClient,
	ProvideLocker,
	ProvideJWTManager,
	ProvidePaymentProvider,
)

// ProvideLogger creates the process logger.
func ProvideLogger(cfg *config.Config) *zap.Logger {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// ProvideRegistry creates the metrics registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a metrics instance.
func ProvideMetrics(reg prometheus.Registerer) *metrics.Metrics {
	return metrics.New("iconforge", reg)
}

// ProvideDatabase opens the configured database. The memory driver needs none
// and yields a nil *gorm.DB.
func ProvideDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("using in-memory store, state is lost on restart")
		return nil, func() {}, nil
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = database.Close(db) }

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return db, cleanup, nil
}

// ProvideStores builds the storage ports over db, or over an in-memory store when db is nil.
func ProvideStores(db *gorm.DB) *Stores {
	if db == nil {
		store := memory.New()
		return &Stores{
			Accounts:      store.Accounts(),
			UpdateLogs:    store.UpdateLogs(),
			Subscriptions: store.SubscriptionRecords(),
			WebhookEvents: store.WebhookEvents(),
		}
	}
	return &Stores{
		Accounts:      postgres.NewCreditAccountAdapter(db),
		UpdateLogs:    postgres.NewCreditUpdateLogAdapter(db),
		Subscriptions: postgres.NewSubscriptionAdapter(db),
		WebhookEvents: postgres.NewWebhookEventAdapter(db),
	}
}

// ProvideRedisClient creates a Redis client when Redis is enabled.
func ProvideRedisClient(cfg *config.Config, log *zap.Logger) (goredis.UniversalClient, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	log.Info("redis connected", zap.String("address", cfg.Redis.Address))
	return client, func() { _ = client.Close() }, nil
}

// ProvideLocker returns a Redis lock when a client is available, otherwise an
// in-process lock that only single-flights within this instance.
func ProvideLocker(client goredis.UniversalClient, log *zap.Logger) outbound.LockPort {
	if client == nil {
		return memory.NewLocker()
	}
	return redisadapter.NewLocker(client, log)
}

// ProvideJWTManager creates the access token validator.
func ProvideJWTManager(cfg *config.Config) outbound.JWTPort {
	return token.NewJWTManager(&token.JWTConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
	})
}

// ProvidePaymentProvider creates the Stripe adapter.
func ProvidePaymentProvider(cfg *config.Config, log *zap.Logger) outbound.PaymentProviderPort {
	return stripeadapter.NewProvider(stripeadapter.Config{
		APIKey:            cfg.Stripe.SecretKey,
		WebhookSecret:     cfg.Stripe.WebhookSecret,
		ProPriceID:        cfg.Stripe.ProPriceID,
		EnterprisePriceID: cfg.Stripe.EnterprisePriceID,
		SuccessURL:        cfg.Stripe.SuccessURL,
		CancelURL:         cfg.Stripe.CancelURL,
		MaxFailures:       cfg.Stripe.FailureThreshold,
		OpenTimeout:       cfg.Stripe.CircuitTimeout,
		HTTPClient:        httpclient.New(cfg.HTTPClient),
	}, log)
}

// ===== Domain Providers =====

// DomainSet provides domain services.
var DomainSet = wire.NewSet(
	ProvideCreditDomain,
	wire.Bind(new(inbound.CreditDomain), new(*credit.Domain)),
	ProvideBillingDomain,
	wire.Bind(new(inbound.BillingDomain), new(*billing.Domain)),
)

// TierTable converts the configured allotments into the engine's tier table.
func TierTable(tiers map[string]config.TierAllotment) (credit.TierTable, error) {
	table := credit.DefaultTierTable()
	for name, a := range tiers {
		tier, ok := model.ParseTier(name)
		if !ok {
			return nil, fmt.Errorf("credits.tiers: unknown tier %q", name)
		}
		table[tier] = credit.Allotment{Daily: a.Daily, Monthly: a.Monthly}
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("credits.tiers: %w", err)
	}
	return table, nil
}

// ProvideCreditDomain creates the ledger engine.
func ProvideCreditDomain(cfg *config.Config, stores *Stores, m *metrics.Metrics, log *zap.Logger) (*credit.Domain, error) {
	tiers, err := TierTable(cfg.Credits.Tiers)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Credits.Location()
	if err != nil {
		return nil, err
	}
	return credit.NewCreditDomain(
		stores.Accounts,
		stores.UpdateLogs,
		stores.Subscriptions,
		credit.Config{
			Tiers:          tiers,
			Location:       loc,
			StorageTimeout: cfg.Credits.StorageTimeout,
		},
		log.Named("credit"),
		credit.WithMetrics(m),
	), nil
}

// ProvideBillingDomain creates the payment event gateway.
func ProvideBillingDomain(
	cfg *config.Config,
	provider outbound.PaymentProviderPort,
	stores *Stores,
	ledger inbound.CreditDomain,
	locker outbound.LockPort,
	m *metrics.Metrics,
	log *zap.Logger,
) *billing.Domain {
	return billing.NewBillingDomain(
		provider,
		stores.Subscriptions,
		stores.WebhookEvents,
		ledger,
		billing.Config{
			LockTTL:        cfg.Stripe.EventLockTTL,
			StorageTimeout: cfg.Credits.StorageTimeout,
			SuccessURL:     cfg.Stripe.SuccessURL,
			CancelURL:      cfg.Stripe.CancelURL,
		},
		log.Named("billing"),
		billing.WithMetrics(m),
		billing.WithLocker(locker),
	)
}

// ===== Worker Providers =====

// WorkerSet provides the periodic ledger batches.
var WorkerSet = wire.NewSet(
	ProvideResetScheduler,
	ProvideReconciler,
	ProvideRunner,
	wire.Bind(new(inbound.BatchRunner), new(*worker.Runner)),
)

func batchConfig(cfg *config.Config) worker.BatchConfig {
	return worker.BatchConfig{
		Parallelism:    cfg.Scheduler.Parallelism,
		BatchSize:      cfg.Scheduler.BatchSize,
		Deadline:       cfg.Scheduler.BatchDeadline,
		StorageTimeout: cfg.Credits.StorageTimeout,
	}
}

// ProvideResetScheduler creates the daily reset batch.
func ProvideResetScheduler(cfg *config.Config, stores *Stores, ledger *credit.Domain, m *metrics.Metrics, log *zap.Logger) *worker.ResetScheduler {
	return worker.NewResetScheduler(stores.Accounts, ledger.Cycle(), batchConfig(cfg), m, log.Named("reset"))
}

// ProvideReconciler creates the failed tier-change reconciliation batch.
func ProvideReconciler(cfg *config.Config, stores *Stores, ledger inbound.CreditDomain, m *metrics.Metrics, log *zap.Logger) *worker.Reconciler {
	return worker.NewReconciler(stores.Accounts, stores.UpdateLogs, ledger, batchConfig(cfg), m, log.Named("reconcile"))
}

// ProvideRunner creates the single-flighted batch runner.
func ProvideRunner(
	cfg *config.Config,
	reset *worker.ResetScheduler,
	reconciler *worker.Reconciler,
	locker outbound.LockPort,
	ledger *credit.Domain,
	log *zap.Logger,
) *worker.Runner {
	return worker.NewRunner(reset, reconciler, locker, worker.RunnerConfig{
		ResetInterval:     cfg.Scheduler.ResetInterval,
		ReconcileInterval: cfg.Scheduler.ReconcileInterval,
		Reconcile: inbound.ReconcileOptions{
			Window:      cfg.Scheduler.Window,
			Cooldown:    cfg.Scheduler.Cooldown,
			MaxAttempts: cfg.Scheduler.MaxAttempts,
		},
		LockTTL: cfg.Scheduler.LockTTL,
	}, ledger.Now, log.Named("runner"))
}

// ===== HTTP Providers =====

// HTTPSet provides the gin adapters.
var HTTPSet = wire.NewSet(
	ginadapter.NewCreditsAdapter,
	ginadapter.NewBillingAdapter,
	ginadapter.NewWebhookAdapter,
	ginadapter.NewCronAdapter,
)

// AppSet is the complete provider set.
var AppSet = wire.NewSet(
	InfraSet,
	DomainSet,
	WorkerSet,
	HTTPSet,
)
