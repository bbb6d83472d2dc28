package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/database"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/gormrepo"
	"github.com/storefront/api/internal/services"
)

const (
	settingsCachePrefix = "storefront:settings:"
	databaseCheckName   = "database"
	redisCheckName      = "redis"
)

// Infrastructure carries the clients built by the process entrypoint. DB is required. Redis
// may be nil, in which case in-process stores are used. A nil Publisher logs notifications.
type Infrastructure struct {
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Publisher services.NotificationPublisher
	Meter     metric.Meter
	Logger    *zap.Logger
	Clock     func() time.Time
	// Checks are probed by /readyz next to the database and Redis.
	Checks []repositories.DependencyCheck
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Pricing   services.PricingService
	Addresses services.AddressService
	Settings  services.SettingsService
	Orders    services.OrderService
	Payments  services.PaymentService
	Reconcile services.ReconcileService
}

// Container wires repositories, gateways and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Gateways     *payments.Manager
	// Mock is set when the simulated gateway is enabled.
	Mock     *payments.MockProvider
	Settings cache.Store
	Services Services
}

// NewContainer constructs the runtime dependencies over an open database.
func NewContainer(ctx context.Context, cfg config.Config, infra Infrastructure) (*Container, error) {
	if infra.DB == nil {
		return nil, errors.New("di: database is required")
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	health, err := buildHealth(infra)
	if err != nil {
		return nil, fmt.Errorf("build health checks: %w", err)
	}
	reg, err := gormrepo.NewRegistry(infra.DB, health, database.WithTxTimeout(cfg.Database.TxTimeout))
	if err != nil {
		return nil, fmt.Errorf("build repositories: %w", err)
	}

	gateways, mock, err := buildGateways(cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildSettingsCache(cfg, infra.Redis)
	if err != nil {
		return nil, err
	}

	publisher := infra.Publisher
	if publisher == nil {
		publisher = jobs.NewLogNotificationPublisher(logger.Named("notifications"))
	}

	svc, err := buildServices(cfg, reg, gateways, store, publisher, infra.Meter, clock, logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Gateways:     gateways,
		Mock:         mock,
		Settings:     store,
		Services:     svc,
	}, nil
}

// Close releases the repository connection pool.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildHealth(infra Infrastructure) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, len(infra.Checks)+2)
	db := infra.DB
	checks = append(checks, repositories.DependencyCheck{
		Name:  databaseCheckName,
		Check: func(ctx context.Context) error { return database.Ping(ctx, db) },
	})
	if infra.Redis != nil {
		client := infra.Redis
		checks = append(checks, repositories.DependencyCheck{
			Name:    redisCheckName,
			Timeout: time.Second,
			Check:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	checks = append(checks, infra.Checks...)
	return repositories.NewDependencyHealthRepository(checks)
}

func buildGateways(cfg config.Config) (*payments.Manager, *payments.MockProvider, error) {
	var providers []payments.Provider
	currency := cfg.Payments.Currency

	if cfg.Payments.Bank.Enabled {
		bank, err := payments.NewBankProvider(payments.BankProviderConfig{
			ClientID:     cfg.Payments.Bank.ClientID,
			StoreKey:     cfg.Payments.Bank.StoreKey,
			GatewayURL:   cfg.Payments.Bank.GatewayURL,
			OkURL:        cfg.Payments.Bank.OkURL,
			FailURL:      cfg.Payments.Bank.FailURL,
			StoreType:    cfg.Payments.Bank.StoreType,
			TxnType:      cfg.Payments.Bank.TxnType,
			Lang:         cfg.Payments.Bank.Lang,
			Currency:     currency,
			CurrencyCode: cfg.Payments.Bank.CurrencyCode,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build bank gateway: %w", err)
		}
		providers = append(providers, bank)
	}

	var mock *payments.MockProvider
	if cfg.Payments.Mock.Enabled {
		var err error
		mock, err = payments.NewMockProvider(payments.MockProviderConfig{
			PublicAPIURL: cfg.Storefront.PublicAPIURL,
			Currency:     currency,
			SuccessRate:  cfg.Payments.Mock.SuccessRate,
			Latency:      cfg.Payments.Mock.Latency,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build mock gateway: %w", err)
		}
		providers = append(providers, mock)
	}

	manager, err := payments.NewManager(providers, payments.WithDefaultProvider(cfg.Payments.DefaultProvider))
	if err != nil {
		return nil, nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, mock, nil
}

func buildSettingsCache(cfg config.Config, client redis.UniversalClient) (cache.Store, error) {
	switch strings.ToLower(cfg.Settings.CacheBackend) {
	case "redis":
		if client == nil {
			return nil, errors.New("settings cache: redis backend selected without a redis client")
		}
		return cache.NewRedisStore(client, settingsCachePrefix)
	default:
		return cache.NewMemoryStore(), nil
	}
}

func buildServices(
	cfg config.Config,
	reg repositories.Registry,
	gateways *payments.Manager,
	store cache.Store,
	publisher services.NotificationPublisher,
	meter metric.Meter,
	clock func() time.Time,
	logger *zap.Logger,
) (Services, error) {
	var svc Services
	var err error

	svc.Settings, err = services.NewSettingsService(services.SettingsServiceDeps{
		Settings: reg.Settings(),
		Cache:    store,
		TTL:      cfg.Settings.CacheTTL,
		Clock:    clock,
		Logger:   observability.EventLogger(logger.Named("settings"), "settings event"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}

	svc.Pricing, err = services.NewPricingService(services.PricingServiceDeps{Catalog: reg.Catalog()})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}

	svc.Addresses, err = services.NewAddressService(services.AddressServiceDeps{
		Addresses: reg.Addresses(),
		Clock:     clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build address service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Customers:  reg.Customers(),
		Catalog:    reg.Catalog(),
		Orders:     reg.Orders(),
		Payments:   reg.Payments(),
		UnitOfWork: reg,
		Pricing:    svc.Pricing,
		Addresses:  svc.Addresses,
		Settings:   svc.Settings,
		Publisher:  publisher,
		Currency:   cfg.Payments.Currency,
		AdminEmail: cfg.Storefront.AdminEmail,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("orders"), "order event"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Payments, err = services.NewPaymentService(services.PaymentServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg,
		Gateway:    gateways,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("payments"), "payment event"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	svc.Reconcile, err = services.NewReconcileService(services.ReconcileServiceDeps{
		Orders:     reg.Orders(),
		Payments:   reg.Payments(),
		UnitOfWork: reg,
		Gateway:    gateways,
		Settings:   svc.Settings,
		Publisher:  publisher,
		AdminEmail: cfg.Storefront.AdminEmail,
		Meter:      meter,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("reconcile"), "reconcile event"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconcile service: %w", err)
	}

	return svc, nil
}
