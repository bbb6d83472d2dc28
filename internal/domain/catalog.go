package domain

import "strconv"

// Stock is either unlimited or a limited non-negative quantity.
type Stock struct {
	limited  bool
	quantity int64
}

// UnlimitedStock returns stock that never runs out.
func UnlimitedStock() Stock {
	return Stock{}
}

// LimitedStock returns stock holding n units. Negative values clamp to zero.
func LimitedStock(n int64) Stock {
	if n < 0 {
		n = 0
	}
	return Stock{limited: true, quantity: n}
}

// IsUnlimited reports whether the stock is untracked.
func (s Stock) IsUnlimited() bool {
	return !s.limited
}

// Quantity returns the remaining units and whether the stock is limited.
func (s Stock) Quantity() (int64, bool) {
	return s.quantity, s.limited
}

// Covers reports whether qty units can be taken from the stock.
func (s Stock) Covers(qty int64) bool {
	if !s.limited {
		return true
	}
	return qty <= s.quantity
}

func (s Stock) String() string {
	if !s.limited {
		return "unlimited"
	}
	return strconv.FormatInt(s.quantity, 10)
}

// Product is the sellable catalog entity as seen by the pipeline.
type Product struct {
	ID     string
	Name   string
	Price  int64
	Active bool
	Stock  Stock
}

// Variation is a priced variant of a product with its own stock.
type Variation struct {
	ID        string
	ProductID string
	Name      string
	Price     int64
	Active    bool
	Stock     Stock
}
