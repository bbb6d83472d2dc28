package di

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/database"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/gormrepo"
	"github.com/storefront/api/internal/services"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(ctx, config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if err := gormrepo.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mockOnlyConfig() config.Config {
	return config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", TxTimeout: 5 * time.Second},
		Payments: config.PaymentsConfig{
			DefaultProvider: payments.MockProviderName,
			Currency:        "TRY",
			Mock:            config.MockConfig{Enabled: true, SuccessRate: 1},
		},
		Storefront: config.StorefrontConfig{
			BaseURL:      "https://shop.example.com",
			PublicAPIURL: "https://api.example.com",
		},
		Settings: config.SettingsConfig{CacheTTL: time.Minute, CacheBackend: "memory"},
	}
}

func TestNewContainerRequiresDatabase(t *testing.T) {
	if _, err := NewContainer(context.Background(), mockOnlyConfig(), Infrastructure{}); err == nil {
		t.Fatalf("expected error without database")
	}
}

func TestNewContainerRejectsRedisCacheWithoutClient(t *testing.T) {
	cfg := mockOnlyConfig()
	cfg.Settings.CacheBackend = "redis"
	if _, err := NewContainer(context.Background(), cfg, Infrastructure{DB: openTestDB(t)}); err == nil {
		t.Fatalf("expected error for redis cache without client")
	}
}

func TestNewContainerRequiresRegisteredDefaultGateway(t *testing.T) {
	cfg := mockOnlyConfig()
	cfg.Payments.DefaultProvider = payments.BankProviderName
	if _, err := NewContainer(context.Background(), cfg, Infrastructure{DB: openTestDB(t)}); err == nil {
		t.Fatalf("expected error when the default gateway is disabled")
	}
}

func TestNewContainerHealthIncludesExtraChecks(t *testing.T) {
	container, err := NewContainer(context.Background(), mockOnlyConfig(), Infrastructure{
		DB: openTestDB(t),
		Checks: []repositories.DependencyCheck{{
			Name:  "secretManager",
			Check: func(context.Context) error { return nil },
		}},
	})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	report, err := container.Repositories.Health().Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok report, got %+v", report)
	}
	for _, name := range []string{databaseCheckName, "secretManager"} {
		if _, ok := report.Checks[name]; !ok {
			t.Fatalf("expected %s check in %+v", name, report.Checks)
		}
	}
	if _, ok := report.Checks[redisCheckName]; ok {
		t.Fatalf("redis check must be absent without a client")
	}
}

type capturePublisher struct {
	sent []services.Notification
}

func (p *capturePublisher) PublishNotification(_ context.Context, n services.Notification) (string, error) {
	p.sent = append(p.sent, n)
	return n.ID, nil
}

func TestContainerWiresCheckoutThroughMockGateway(t *testing.T) {
	ctx := context.Background()
	publisher := &capturePublisher{}
	container, err := NewContainer(ctx, mockOnlyConfig(), Infrastructure{DB: openTestDB(t), Publisher: publisher})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	t.Cleanup(func() { _ = container.Close(ctx) })

	if container.Mock == nil || !container.Gateways.Has(payments.MockProviderName) {
		t.Fatalf("expected mock gateway to be registered")
	}
	if container.Gateways.Has(payments.BankProviderName) {
		t.Fatalf("bank gateway must not be registered when disabled")
	}

	registry := container.Repositories.(*gormrepo.Registry)
	if err := registry.CatalogRepo().SeedProduct(ctx, domain.Product{
		ID: "p1", Name: "Mug", Price: 15000, Active: true, Stock: domain.LimitedStock(5),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := container.Services
	if _, err := svc.Settings.Put(ctx, services.SettingShippingDefaultCost, "29.99"); err != nil {
		t.Fatalf("put setting: %v", err)
	}
	if _, err := svc.Settings.Put(ctx, services.SettingShippingFreeThreshold, "1000"); err != nil {
		t.Fatalf("put setting: %v", err)
	}

	order, err := svc.Orders.CreateOrder(ctx, services.CreateOrderCommand{
		Guest: services.GuestContact{Email: "Guest@Example.com", Name: "Guest Buyer", Phone: "+905551112233"},
		Items: []services.LineRequest{{ProductID: "p1", Quantity: 2}},
		ShippingAddress: services.AddressInput{
			Title: "Home", Name: "Guest Buyer", Phone: "+905551112233",
			City: "Istanbul", District: "Kadikoy", FullAddress: "Moda Cd. 1",
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Totals.Final != 32999 {
		t.Fatalf("expected final 32999, got %d", order.Totals.Final)
	}

	initiation, err := svc.Payments.Initiate(ctx, services.InitiatePaymentCommand{
		OrderID:    order.ID,
		Provider:   payments.MockProviderName,
		Amount:     "329.99",
		GuestEmail: "guest@example.com",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	callback, err := container.Mock.Simulate(ctx, payments.SimulateRequest{
		OrderNumber:   initiation.OrderNumber,
		TransactionID: initiation.TransactionID,
		Amount:        domain.FormatAmount(initiation.Amount),
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	body, err := json.Marshal(callback)
	if err != nil {
		t.Fatalf("marshal callback: %v", err)
	}
	result, err := svc.Reconcile.Reconcile(ctx, services.ReconcileCommand{Provider: payments.MockProviderName, Body: body})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed payment, got %s", result.PaymentStatus)
	}

	var types []string
	for _, n := range publisher.sent {
		types = append(types, n.Type)
	}
	if len(types) == 0 || types[0] != services.NotificationOrderCreated || types[len(types)-1] != services.NotificationPaymentCompleted {
		t.Fatalf("unexpected notifications %v", types)
	}
}
