package gormrepo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/database"
)

// CustomerRepository persists customers keyed by (kind, key).
type CustomerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository constructs a customer repository.
func NewCustomerRepository(db *gorm.DB) (*CustomerRepository, error) {
	if db == nil {
		return nil, errors.New("customer repository: db is required")
	}
	return &CustomerRepository{db: db}, nil
}

// Upsert inserts the customer when absent, then returns the stored row. Concurrent callers
// racing on the same key all observe the single winning row.
func (r *CustomerRepository) Upsert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if strings.TrimSpace(customer.Key) == "" || customer.Kind == "" {
		return domain.Customer{}, database.WrapError("customers.upsert", errors.New("customer kind and key are required"))
	}
	conn := database.Conn(ctx, r.db)
	model := customerFromDomain(customer)
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return domain.Customer{}, database.WrapError("customers.upsert", err)
	}

	var stored customerModel
	if err := conn.Where("kind = ? AND customer_key = ?", model.Kind, model.Key).Take(&stored).Error; err != nil {
		return domain.Customer{}, database.WrapError("customers.upsert", err)
	}

	updates := map[string]any{}
	if customer.Email != "" && customer.Email != stored.Email {
		updates["email"] = customer.Email
		stored.Email = customer.Email
	}
	if customer.Name != "" && customer.Name != stored.Name {
		updates["name"] = customer.Name
		stored.Name = customer.Name
	}
	if customer.Phone != "" && customer.Phone != stored.Phone {
		updates["phone"] = customer.Phone
		stored.Phone = customer.Phone
	}
	if len(updates) > 0 {
		if !customer.UpdatedAt.IsZero() {
			updates["updated_at"] = customer.UpdatedAt
			stored.UpdatedAt = customer.UpdatedAt
		}
		if err := conn.Model(&customerModel{}).Where("id = ?", stored.ID).Updates(updates).Error; err != nil {
			return domain.Customer{}, database.WrapError("customers.upsert", err)
		}
	}
	return stored.toDomain(), nil
}

// FindByID loads a customer by primary key.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	var model customerModel
	if err := database.Conn(ctx, r.db).Where("id = ?", customerID).Take(&model).Error; err != nil {
		return domain.Customer{}, database.WrapError("customers.findByID", err)
	}
	return model.toDomain(), nil
}
