package repositories

import (
	"context"

	domain "github.com/storefront/api/internal/domain"
)

// Registry exposes typed repository accessors for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Customers() CustomerRepository
	Addresses() AddressRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Settings() SettingRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transaction. Repositories called with the
// context passed to fn participate in that transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository reads products and variations and applies conditional stock decrements.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	FindVariation(ctx context.Context, variationID string) (domain.Variation, error)
	// DecrementProductStock removes qty units when the product has limited stock of at least
	// qty. It returns an InventoryError with InventoryErrorInsufficientStock when no row matched.
	// Unlimited stock is left untouched.
	DecrementProductStock(ctx context.Context, productID string, qty int64) error
	DecrementVariationStock(ctx context.Context, variationID string, qty int64) error
}

// CustomerRepository persists the ownership records of orders and addresses.
type CustomerRepository interface {
	// Upsert returns the customer identified by (Kind, Key), creating it when absent.
	// Contact details of an existing row are refreshed when the input carries non-empty values.
	Upsert(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
}

// AddressRepository persists deduplicated customer addresses.
type AddressRepository interface {
	FindByID(ctx context.Context, addressID string) (domain.Address, error)
	FindByHash(ctx context.Context, customerID string, hash string) (domain.Address, error)
	// Insert stores the address. A duplicate (customerID, hash) pair yields a conflict error.
	Insert(ctx context.Context, address domain.Address) error
}

// OrderRepository persists orders and their items.
type OrderRepository interface {
	// Insert stores the order and all items. A duplicate order number yields a conflict error.
	Insert(ctx context.Context, order domain.Order) error
	// Update writes mutable order columns. Items are never rewritten.
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// LockByNumber loads the order and holds a row lock until the surrounding transaction ends.
	LockByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
}

// PaymentRepository persists append-only payment attempts.
type PaymentRepository interface {
	// Insert stores the payment. A duplicate (orderID, transactionID) pair yields a conflict error.
	Insert(ctx context.Context, payment domain.Payment) error
	FindByTransaction(ctx context.Context, orderID, transactionID string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// SettingRepository stores raw key/value configuration.
type SettingRepository interface {
	Get(ctx context.Context, key string) (domain.Setting, error)
	Put(ctx context.Context, setting domain.Setting) error
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
