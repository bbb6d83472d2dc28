package gormrepo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/database"
	"github.com/storefront/api/internal/repositories"
)

// CatalogRepository reads products and variations from the relational store.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository constructs a catalog repository.
func NewCatalogRepository(db *gorm.DB) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository: db is required")
	}
	return &CatalogRepository{db: db}, nil
}

// FindProduct loads a product by ID.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, database.NotFound("catalog.findProduct")
	}
	var model productModel
	if err := database.Conn(ctx, r.db).Where("id = ?", productID).Take(&model).Error; err != nil {
		return domain.Product{}, database.WrapError("catalog.findProduct", err)
	}
	return model.toDomain(), nil
}

// FindVariation loads a variation by ID.
func (r *CatalogRepository) FindVariation(ctx context.Context, variationID string) (domain.Variation, error) {
	variationID = strings.TrimSpace(variationID)
	if variationID == "" {
		return domain.Variation{}, database.NotFound("catalog.findVariation")
	}
	var model variationModel
	if err := database.Conn(ctx, r.db).Where("id = ?", variationID).Take(&model).Error; err != nil {
		return domain.Variation{}, database.WrapError("catalog.findVariation", err)
	}
	return model.toDomain(), nil
}

// DecrementProductStock removes qty units from a limited product.
func (r *CatalogRepository) DecrementProductStock(ctx context.Context, productID string, qty int64) error {
	return r.decrement(ctx, "catalog.decrementProduct", productModel{}.TableName(), productID, qty)
}

// DecrementVariationStock removes qty units from a limited variation.
func (r *CatalogRepository) DecrementVariationStock(ctx context.Context, variationID string, qty int64) error {
	return r.decrement(ctx, "catalog.decrementVariation", variationModel{}.TableName(), variationID, qty)
}

// decrement issues a single conditional UPDATE so concurrent buyers can never drive stock
// below zero. A zero row count is disambiguated by re-reading the row.
func (r *CatalogRepository) decrement(ctx context.Context, op string, table string, id string, qty int64) error {
	if qty <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, id, qty)
	}
	conn := database.Conn(ctx, r.db)
	result := conn.Table(table).
		Where("id = ? AND stock_unlimited = ? AND stock >= ?", id, false, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if result.Error != nil {
		return database.WrapError(op, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var row struct {
		StockUnlimited bool
		Stock          int64
	}
	lookup := database.Conn(ctx, r.db).Table(table).Select("stock_unlimited", "stock").Where("id = ?", id).Limit(1).Scan(&row)
	if lookup.Error != nil {
		return database.WrapError(op, lookup.Error)
	}
	if lookup.RowsAffected == 0 {
		return database.NotFound(op)
	}
	if row.StockUnlimited {
		return nil
	}
	return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, id, qty)
}

// SeedProduct inserts or replaces a product row.
func (r *CatalogRepository) SeedProduct(ctx context.Context, product domain.Product) error {
	unlimited, qty := stockColumns(product.Stock)
	model := productModel{
		ID:             product.ID,
		Name:           product.Name,
		Price:          product.Price,
		Active:         product.Active,
		StockUnlimited: unlimited,
		Stock:          qty,
	}
	if err := database.Conn(ctx, r.db).Save(&model).Error; err != nil {
		return database.WrapError("catalog.seedProduct", err)
	}
	return nil
}

// SeedVariation inserts or replaces a variation row.
func (r *CatalogRepository) SeedVariation(ctx context.Context, variation domain.Variation) error {
	unlimited, qty := stockColumns(variation.Stock)
	model := variationModel{
		ID:             variation.ID,
		ProductID:      variation.ProductID,
		Name:           variation.Name,
		Price:          variation.Price,
		Active:         variation.Active,
		StockUnlimited: unlimited,
		Stock:          qty,
	}
	if err := database.Conn(ctx, r.db).Save(&model).Error; err != nil {
		return database.WrapError("catalog.seedVariation", err)
	}
	return nil
}
