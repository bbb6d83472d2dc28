package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/database"
	"github.com/storefront/api/internal/repositories/gormrepo"
)

var pipelineNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (p *recordingPublisher) PublishNotification(_ context.Context, n Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, n)
	return fmt.Sprintf("msg-%d", len(p.sent)), nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, n := range p.sent {
		out = append(out, n.Type)
	}
	return out
}

type pipeline struct {
	registry  *gormrepo.Registry
	db        *gorm.DB
	settings  SettingsService
	orders    OrderService
	payments  PaymentService
	reconcile ReconcileService
	publisher *recordingPublisher
	mock      *payments.MockProvider
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(ctx, config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
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
	registry, err := gormrepo.NewRegistry(db, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	clock := func() time.Time { return pipelineNow }
	settings, err := NewSettingsService(SettingsServiceDeps{Settings: registry.Settings(), Cache: cache.NewMemoryStore(), Clock: clock})
	if err != nil {
		t.Fatalf("settings service: %v", err)
	}
	pricing, err := NewPricingService(PricingServiceDeps{Catalog: registry.Catalog()})
	if err != nil {
		t.Fatalf("pricing service: %v", err)
	}
	addresses, err := NewAddressService(AddressServiceDeps{Addresses: registry.Addresses(), Clock: clock})
	if err != nil {
		t.Fatalf("address service: %v", err)
	}
	publisher := &recordingPublisher{}
	orders, err := NewOrderService(OrderServiceDeps{
		Customers:  registry.Customers(),
		Catalog:    registry.Catalog(),
		Orders:     registry.Orders(),
		Payments:   registry.Payments(),
		UnitOfWork: registry,
		Pricing:    pricing,
		Addresses:  addresses,
		Settings:   settings,
		Publisher:  publisher,
		AdminEmail: "ops@example.com",
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}

	mock, err := payments.NewMockProvider(payments.MockProviderConfig{
		PublicAPIURL: "https://api.example.com",
		Currency:     "TRY",
		SuccessRate:  1,
		Random:       func() float64 { return 0 },
	})
	if err != nil {
		t.Fatalf("mock provider: %v", err)
	}
	manager, err := payments.NewManager([]payments.Provider{mock})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	paymentSvc, err := NewPaymentService(PaymentServiceDeps{Orders: registry.Orders(), UnitOfWork: registry, Gateway: manager, Clock: clock})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	reconcile, err := NewReconcileService(ReconcileServiceDeps{
		Orders:     registry.Orders(),
		Payments:   registry.Payments(),
		UnitOfWork: registry,
		Gateway:    manager,
		Settings:   settings,
		Publisher:  publisher,
		AdminEmail: "ops@example.com",
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("reconcile service: %v", err)
	}

	return &pipeline{
		registry:  registry,
		db:        db,
		settings:  settings,
		orders:    orders,
		payments:  paymentSvc,
		reconcile: reconcile,
		publisher: publisher,
		mock:      mock,
	}
}

func (p *pipeline) seedProduct(t *testing.T, product domain.Product) {
	t.Helper()
	if err := p.registry.CatalogRepo().SeedProduct(context.Background(), product); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (p *pipeline) seedVariation(t *testing.T, variation domain.Variation) {
	t.Helper()
	if err := p.registry.CatalogRepo().SeedVariation(context.Background(), variation); err != nil {
		t.Fatalf("seed variation: %v", err)
	}
}

func (p *pipeline) putSetting(t *testing.T, key, value string) {
	t.Helper()
	if _, err := p.settings.Put(context.Background(), key, value); err != nil {
		t.Fatalf("put setting %s: %v", key, err)
	}
}

func (p *pipeline) countRows(t *testing.T, table string) int64 {
	t.Helper()
	var count int64
	if err := p.db.Table(table).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func testAddress() AddressInput {
	return AddressInput{
		Title:       "Home",
		Name:        "Ayse Yilmaz",
		Phone:       "+90 555 000 0000",
		City:        "Istanbul",
		District:    "Kadikoy",
		FullAddress: "Moda Cad. No:1",
	}
}

func guestOrder(email string, items ...LineRequest) CreateOrderCommand {
	return CreateOrderCommand{
		Guest:           GuestContact{Email: email, Name: "Ayse Yilmaz", Phone: "+90 555 000 0000"},
		Items:           items,
		ShippingAddress: testAddress(),
	}
}

func mockCallbackBody(t *testing.T, orderNumber, tx, amount, status string) []byte {
	t.Helper()
	body, err := json.Marshal(payments.MockCallback{
		OrderNumber:   orderNumber,
		TransactionID: tx,
		Amount:        amount,
		Currency:      "TRY",
		Status:        status,
	})
	if err != nil {
		t.Fatalf("marshal callback: %v", err)
	}
	return body
}
