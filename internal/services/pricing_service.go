package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// maxLineQuantity caps a single line; larger quantities are bulk orders handled off-system.
const maxLineQuantity = 10_000

var (
	// ErrPricingInvalidInput signals a malformed item line.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingNotFound indicates a referenced product or variation does not exist.
	ErrPricingNotFound = errors.New("pricing: not found")
	// ErrPricingInactive indicates a referenced product or variation is deactivated.
	ErrPricingInactive = errors.New("pricing: inactive entity")
	// ErrPricingInsufficientStock indicates the live stock cannot cover the requested quantity.
	ErrPricingInsufficientStock = errors.New("pricing: insufficient stock")
)

// PricingLineError identifies the line that failed validation.
type PricingLineError struct {
	Index       int
	ProductID   string
	VariationID string
	Err         error
}

func (e *PricingLineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Index, e.Err)
}

func (e *PricingLineError) Unwrap() error {
	return e.Err
}

// PricingServiceDeps bundles collaborators required to construct the pricing service.
type PricingServiceDeps struct {
	Catalog repositories.CatalogRepository
}

type pricingService struct {
	catalog repositories.CatalogRepository
}

// NewPricingService wires dependencies into a concrete PricingService implementation.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing service: catalog repository is required")
	}
	return &pricingService{catalog: deps.Catalog}, nil
}

// PriceLines resolves every line and stops at the first failure. Quantities for the same entity
// are summed before the stock check.
func (s *pricingService) PriceLines(ctx context.Context, lines []LineRequest) (PricedLines, error) {
	if len(lines) == 0 {
		return PricedLines{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}

	requested := make(map[string]int64, len(lines))
	result := PricedLines{Lines: make([]PricedLine, 0, len(lines))}
	for idx, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		line.VariationID = strings.TrimSpace(line.VariationID)

		priced, stock, key, err := s.resolveLine(ctx, line)
		if err != nil {
			return PricedLines{}, &PricingLineError{Index: idx, ProductID: line.ProductID, VariationID: line.VariationID, Err: err}
		}

		requested[key] += line.Quantity
		if requested[key] > maxLineQuantity {
			return PricedLines{}, &PricingLineError{
				Index:       idx,
				ProductID:   priced.ProductID,
				VariationID: priced.VariationID,
				Err:         fmt.Errorf("%w: at most %d units per item", ErrPricingInvalidInput, maxLineQuantity),
			}
		}
		if !stock.Covers(requested[key]) {
			return PricedLines{}, &PricingLineError{
				Index:       idx,
				ProductID:   priced.ProductID,
				VariationID: priced.VariationID,
				Err:         fmt.Errorf("%w: %d requested, %s available", ErrPricingInsufficientStock, requested[key], stock),
			}
		}

		subtotal, err := domain.AddAmounts(result.Subtotal, priced.Total)
		if err != nil {
			return PricedLines{}, &PricingLineError{Index: idx, ProductID: priced.ProductID, VariationID: priced.VariationID, Err: fmt.Errorf("%w: subtotal too large", ErrPricingInvalidInput)}
		}
		result.Lines = append(result.Lines, priced)
		result.Subtotal = subtotal
	}
	return result, nil
}

func (s *pricingService) resolveLine(ctx context.Context, line LineRequest) (PricedLine, domain.Stock, string, error) {
	if line.Quantity < 1 || line.Quantity > maxLineQuantity {
		return PricedLine{}, domain.Stock{}, "", fmt.Errorf("%w: quantity must be between 1 and %d", ErrPricingInvalidInput, maxLineQuantity)
	}
	if line.ProductID == "" && line.VariationID == "" {
		return PricedLine{}, domain.Stock{}, "", fmt.Errorf("%w: productId or variationId is required", ErrPricingInvalidInput)
	}

	if line.VariationID != "" {
		variation, err := s.catalog.FindVariation(ctx, line.VariationID)
		if err != nil {
			return PricedLine{}, domain.Stock{}, "", s.mapRepositoryError(err, "variation "+line.VariationID)
		}
		if line.ProductID != "" && line.ProductID != variation.ProductID {
			return PricedLine{}, domain.Stock{}, "", fmt.Errorf("%w: variation %s does not belong to product %s", ErrPricingInvalidInput, variation.ID, line.ProductID)
		}
		product, err := s.catalog.FindProduct(ctx, variation.ProductID)
		if err != nil {
			return PricedLine{}, domain.Stock{}, "", s.mapRepositoryError(err, "product "+variation.ProductID)
		}
		if !product.Active || !variation.Active {
			return PricedLine{}, domain.Stock{}, "", fmt.Errorf("%w: variation %s", ErrPricingInactive, variation.ID)
		}
		total, err := domain.MulAmount(variation.Price, line.Quantity)
		if err != nil {
			return PricedLine{}, domain.Stock{}, "", fmt.Errorf("%w: line total too large", ErrPricingInvalidInput)
		}
		name := product.Name
		if variation.Name != "" {
			name = product.Name + " - " + variation.Name
		}
		return PricedLine{
			ProductID:   product.ID,
			VariationID: variation.ID,
			Name:        name,
			Quantity:    line.Quantity,
			UnitPrice:   variation.Price,
			Total:       total,
			Limited:     !variation.Stock.IsUnlimited(),
		}, variation.Stock, "v:" + variation.ID, nil
	}

	product, err := s.catalog.FindProduct(ctx, line.ProductID)
	if err != nil {
		return PricedLine{}, domain.Stock{}, "", s.mapRepositoryError(err, "product "+line.ProductID)
	}
	if !product.Active {
		return PricedLine{}, domain.Stock{}, "", fmt.Errorf("%w: product %s", ErrPricingInactive, product.ID)
	}
	total, err := domain.MulAmount(product.Price, line.Quantity)
	if err != nil {
		return PricedLine{}, domain.Stock{}, "", fmt.Errorf("%w: line total too large", ErrPricingInvalidInput)
	}
	return PricedLine{
		ProductID: product.ID,
		Name:      product.Name,
		Quantity:  line.Quantity,
		UnitPrice: product.Price,
		Total:     total,
		Limited:   !product.Stock.IsUnlimited(),
	}, product.Stock, "p:" + product.ID, nil
}

func (s *pricingService) mapRepositoryError(err error, subject string) error {
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %s", ErrPricingNotFound, subject)
	}
	return err
}
