package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/database"
)

// AddressRepository persists deduplicated addresses.
type AddressRepository struct {
	db *gorm.DB
}

// NewAddressRepository constructs an address repository.
func NewAddressRepository(db *gorm.DB) (*AddressRepository, error) {
	if db == nil {
		return nil, errors.New("address repository: db is required")
	}
	return &AddressRepository{db: db}, nil
}

// FindByID loads an address by primary key.
func (r *AddressRepository) FindByID(ctx context.Context, addressID string) (domain.Address, error) {
	var model addressModel
	if err := database.Conn(ctx, r.db).Where("id = ?", addressID).Take(&model).Error; err != nil {
		return domain.Address{}, database.WrapError("addresses.findByID", err)
	}
	return model.toDomain(), nil
}

// FindByHash loads the address owned by customerID with the given dedupe hash.
func (r *AddressRepository) FindByHash(ctx context.Context, customerID string, hash string) (domain.Address, error) {
	var model addressModel
	err := database.Conn(ctx, r.db).
		Where("customer_id = ? AND hash = ?", customerID, hash).
		Take(&model).Error
	if err != nil {
		return domain.Address{}, database.WrapError("addresses.findByHash", err)
	}
	return model.toDomain(), nil
}

// Insert stores a new address.
func (r *AddressRepository) Insert(ctx context.Context, address domain.Address) error {
	model := addressFromDomain(address)
	if err := database.Conn(ctx, r.db).Create(&model).Error; err != nil {
		return database.WrapError("addresses.insert", err)
	}
	return nil
}
