package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/database"
)

// PaymentRepository persists append-only payment rows.
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository constructs a payment repository.
func NewPaymentRepository(db *gorm.DB) (*PaymentRepository, error) {
	if db == nil {
		return nil, errors.New("payment repository: db is required")
	}
	return &PaymentRepository{db: db}, nil
}

// Insert appends a payment row.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	model := paymentFromDomain(payment)
	if err := database.Conn(ctx, r.db).Create(&model).Error; err != nil {
		return database.WrapError("payments.insert", err)
	}
	return nil
}

// FindByTransaction loads the payment recorded for (orderID, transactionID).
func (r *PaymentRepository) FindByTransaction(ctx context.Context, orderID, transactionID string) (domain.Payment, error) {
	var model paymentModel
	err := database.Conn(ctx, r.db).
		Where("order_id = ? AND transaction_id = ?", orderID, transactionID).
		Take(&model).Error
	if err != nil {
		return domain.Payment{}, database.WrapError("payments.findByTransaction", err)
	}
	return model.toDomain(), nil
}

// ListByOrder returns all attempts for an order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var models []paymentModel
	err := database.Conn(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, database.WrapError("payments.listByOrder", err)
	}
	payments := make([]domain.Payment, 0, len(models))
	for _, model := range models {
		payments = append(payments, model.toDomain())
	}
	return payments, nil
}
