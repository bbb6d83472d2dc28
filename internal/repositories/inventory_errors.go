package repositories

import (
	"errors"
	"fmt"
)

// InventoryErrorCode enumerates stock update failures.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock indicates the conditional decrement matched no row.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorInvalidQuantity indicates a non-positive quantity was requested.
	InventoryErrorInvalidQuantity InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError reports a failed stock decrement for one catalog entity.
type InventoryError struct {
	Code     InventoryErrorCode
	EntityID string
	Quantity int64
	Err      error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("inventory: %s for %s (qty %d)", e.Code, e.EntityID, e.Quantity)
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, entityID string, qty int64) *InventoryError {
	return &InventoryError{Code: code, EntityID: entityID, Quantity: qty}
}

// IsInsufficientStock reports whether err is an insufficient stock inventory error.
func IsInsufficientStock(err error) bool {
	var invErr *InventoryError
	return errors.As(err, &invErr) && invErr.Code == InventoryErrorInsufficientStock
}
