package gormrepo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/storefront/api/internal/platform/database"
	"github.com/storefront/api/internal/repositories"
)

// Migrate creates or updates every table managed by this package.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("gormrepo: db is required")
	}
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("gormrepo: migrate: %w", err)
	}
	return nil
}

// Registry wires the gorm repositories behind repositories.Registry.
type Registry struct {
	db        *gorm.DB
	uow       *database.UnitOfWork
	catalog   *CatalogRepository
	customers *CustomerRepository
	addresses *AddressRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	settings  *SettingRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs all repositories over db. health may be nil when readiness probes
// are not needed.
func NewRegistry(db *gorm.DB, health repositories.HealthRepository, txOpts ...database.TxOption) (*Registry, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	catalog, err := NewCatalogRepository(db)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerRepository(db)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(db)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(db)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingRepository(db)
	if err != nil {
		return nil, err
	}
	return &Registry{
		db:        db,
		uow:       database.NewUnitOfWork(db, txOpts...),
		catalog:   catalog,
		customers: customers,
		addresses: addresses,
		orders:    orders,
		payments:  payments,
		settings:  settings,
		health:    health,
	}, nil
}

// Close releases the connection pool.
func (r *Registry) Close(context.Context) error {
	return database.Close(r.db)
}

// RunInTx executes fn in a single transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

// CatalogRepo exposes the concrete catalog repository for seeding.
func (r *Registry) CatalogRepo() *CatalogRepository { return r.catalog }

func (r *Registry) Catalog() repositories.CatalogRepository    { return r.catalog }
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }
func (r *Registry) Addresses() repositories.AddressRepository  { return r.addresses }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository   { return r.payments }
func (r *Registry) Settings() repositories.SettingRepository   { return r.settings }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }
