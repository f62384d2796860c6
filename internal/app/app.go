package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ginadapter "github.com/iconforge/server/internal/adapter/inbound/gin"
	"github.com/iconforge/server/internal/domain/billing"
	"github.com/iconforge/server/internal/domain/credit"
	"github.com/iconforge/server/internal/port/outbound"
	"github.com/iconforge/server/internal/shared/config"
	"github.com/iconforge/server/internal/shared/metrics"
	"github.com/iconforge/server/internal/shared/middleware"
	"github.com/iconforge/server/internal/worker"
)

// App represents the application.
type App struct {
	config   *config.Config
	db       *gorm.DB
	redis    goredis.UniversalClient
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	stores   *Stores
	locker   outbound.LockPort
	jwt      outbound.JWTPort

	creditDomain  *credit.Domain
	billingDomain *billing.Domain
	runner        *worker.Runner
	router        *gin.Engine

	cleanups []func()
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	return NewWithLogger(cfg, ProvideLogger(cfg))
}

// NewWithLogger creates a new application instance logging to log.
func NewWithLogger(cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{
		config: cfg,
		logger: log,
	}
	defer func() {
		if err != nil {
			a.Stop()
		}
	}()

	// Metrics
	a.registry = ProvideRegistry()
	a.metrics = ProvideMetrics(a.registry)

	// Storage
	db, cleanup, err := ProvideDatabase(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.db = db
	a.cleanups = append(a.cleanups, cleanup)
	a.stores = ProvideStores(db)

	// Redis (optional)
	client, cleanup, err := ProvideRedisClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	a.redis = client
	a.cleanups = append(a.cleanups, cleanup)
	a.locker = ProvideLocker(client, log)

	a.jwt = ProvideJWTManager(cfg)

	if err := a.initDomains(); err != nil {
		return nil, fmt.Errorf("init domains: %w", err)
	}

	a.router = a.setupRouter()
	a.registerRoutes()

	return a, nil
}

// initDomains wires the ledger engine, the payment event gateway and the batches.
func (a *App) initDomains() error {
	creditDomain, err := ProvideCreditDomain(a.config, a.stores, a.metrics, a.logger)
	if err != nil {
		return err
	}
	a.creditDomain = creditDomain

	provider := ProvidePaymentProvider(a.config, a.logger)
	a.billingDomain = ProvideBillingDomain(a.config, provider, a.stores, creditDomain, a.locker, a.metrics, a.logger)

	reset := ProvideResetScheduler(a.config, a.stores, creditDomain, a.metrics, a.logger)
	reconciler := ProvideReconciler(a.config, a.stores, creditDomain, a.metrics, a.logger)
	a.runner = ProvideRunner(a.config, reset, reconciler, a.locker, creditDomain, a.logger)
	return nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	// Set Gin mode based on environment
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Apply global middleware
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(a.config.Server.AllowedOrigins))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})))

	return r
}

// registerRoutes registers all module routes.
func (a *App) registerRoutes() {
	// Webhook routes (no auth required, uses signature verification)
	ginadapter.RegisterWebhookRoutes(&a.router.RouterGroup, ginadapter.NewWebhookAdapter(a.billingDomain))

	// Scheduler routes (shared secret)
	ginadapter.RegisterCronRoutes(&a.router.RouterGroup, ginadapter.NewCronAdapter(a.runner), a.config.Scheduler.CronSecret)

	// Protected routes (requires auth)
	v1 := a.router.Group("/api/v1", middleware.RequireAuth(a.jwt))
	ginadapter.RegisterCreditsRoutes(v1, ginadapter.NewCreditsAdapter(a.creditDomain))
	ginadapter.RegisterBillingRoutes(v1, ginadapter.NewBillingAdapter(a.billingDomain))
}

// Start launches the in-process batch runner when enabled.
func (a *App) Start(ctx context.Context) {
	if !a.config.Scheduler.Enabled {
		a.logger.Info("in-process scheduler disabled, batches run via /cron")
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runner.Start(ctx)
	}()
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// CreditDomain returns the ledger engine.
func (a *App) CreditDomain() *credit.Domain {
	return a.creditDomain
}

// Runner returns the batch runner.
func (a *App) Runner() *worker.Runner {
	return a.runner
}

// Stop stops the application and releases resources.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	// Close connections in reverse order of creation
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if a.cleanups[i] != nil {
			a.cleanups[i]()
		}
	}
	a.cleanups = nil

	// Sync zap logger
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
