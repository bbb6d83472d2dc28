package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/database"
)

// OrderRepository persists orders together with their line items.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository constructs an order repository.
func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository: db is required")
	}
	return &OrderRepository{db: db}, nil
}

// Insert stores the order and its items in one statement batch.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	model := orderFromDomain(order)
	if err := database.Conn(ctx, r.db).Create(&model).Error; err != nil {
		return database.WrapError("orders.insert", err)
	}
	return nil
}

// Update writes the mutable order columns. Items and totals are left untouched.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return database.WrapError("orders.update", errors.New("order id is required"))
	}
	updates := map[string]any{
		"status":         string(order.Status),
		"payment_status": string(order.PaymentStatus),
		"status_note":    order.StatusNote,
		"paid_at":        order.PaidAt,
		"updated_at":     order.UpdatedAt,
	}
	err := database.Conn(ctx, r.db).
		Model(&orderModel{}).
		Where("id = ?", order.ID).
		Updates(updates).Error
	if err != nil {
		return database.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads an order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, "orders.findByID", database.Conn(ctx, r.db).Where("id = ?", orderID))
}

// FindByNumber loads an order by its public number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.find(ctx, "orders.findByNumber", database.Conn(ctx, r.db).Where("order_number = ?", orderNumber))
}

// LockByNumber loads the order with SELECT ... FOR UPDATE. It must run inside a transaction.
func (r *OrderRepository) LockByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if !database.InTx(ctx) {
		return domain.Order{}, database.WrapError("orders.lockByNumber", errors.New("row lock requires a transaction"))
	}
	query := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_number = ?", orderNumber)
	return r.find(ctx, "orders.lockByNumber", query)
}

func (r *OrderRepository) find(ctx context.Context, op string, query *gorm.DB) (domain.Order, error) {
	var model orderModel
	if err := query.Take(&model).Error; err != nil {
		return domain.Order{}, database.WrapError(op, err)
	}
	var items []orderItemModel
	err := database.Conn(ctx, r.db).
		Where("order_id = ?", model.ID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return domain.Order{}, database.WrapError(op, err)
	}
	model.Items = items
	return model.toDomain(), nil
}
