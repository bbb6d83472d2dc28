package gormrepo

import (
	"time"

	domain "github.com/storefront/api/internal/domain"
)

type productModel struct {
	ID             string `gorm:"primaryKey;size:26"`
	Name           string `gorm:"size:255;not null"`
	Price          int64  `gorm:"not null"`
	Active         bool   `gorm:"not null;default:true"`
	StockUnlimited bool   `gorm:"not null;default:false"`
	Stock          int64  `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (productModel) TableName() string { return "products" }

func (m productModel) toDomain() domain.Product {
	return domain.Product{
		ID:     m.ID,
		Name:   m.Name,
		Price:  m.Price,
		Active: m.Active,
		Stock:  stockFromColumns(m.StockUnlimited, m.Stock),
	}
}

type variationModel struct {
	ID             string `gorm:"primaryKey;size:26"`
	ProductID      string `gorm:"size:26;not null;index"`
	Name           string `gorm:"size:255;not null"`
	Price          int64  `gorm:"not null"`
	Active         bool   `gorm:"not null;default:true"`
	StockUnlimited bool   `gorm:"not null;default:false"`
	Stock          int64  `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (variationModel) TableName() string { return "product_variations" }

func (m variationModel) toDomain() domain.Variation {
	return domain.Variation{
		ID:        m.ID,
		ProductID: m.ProductID,
		Name:      m.Name,
		Price:     m.Price,
		Active:    m.Active,
		Stock:     stockFromColumns(m.StockUnlimited, m.Stock),
	}
}

func stockFromColumns(unlimited bool, qty int64) domain.Stock {
	if unlimited {
		return domain.UnlimitedStock()
	}
	return domain.LimitedStock(qty)
}

func stockColumns(stock domain.Stock) (bool, int64) {
	qty, limited := stock.Quantity()
	return !limited, qty
}

type customerModel struct {
	ID        string `gorm:"primaryKey;size:26"`
	Kind      string `gorm:"size:16;not null;uniqueIndex:ux_customers_kind_key"`
	Key       string `gorm:"column:customer_key;size:191;not null;uniqueIndex:ux_customers_kind_key"`
	Email     string `gorm:"size:255"`
	Name      string `gorm:"size:255"`
	Phone     string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (customerModel) TableName() string { return "customers" }

func (m customerModel) toDomain() domain.Customer {
	return domain.Customer{
		ID:        m.ID,
		Kind:      domain.CustomerKind(m.Kind),
		Key:       m.Key,
		Email:     m.Email,
		Name:      m.Name,
		Phone:     m.Phone,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func customerFromDomain(c domain.Customer) customerModel {
	return customerModel{
		ID:        c.ID,
		Kind:      string(c.Kind),
		Key:       c.Key,
		Email:     c.Email,
		Name:      c.Name,
		Phone:     c.Phone,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type addressModel struct {
	ID          string `gorm:"primaryKey;size:26"`
	CustomerID  string `gorm:"size:26;not null;uniqueIndex:ux_addresses_owner_hash"`
	Hash        string `gorm:"size:64;not null;uniqueIndex:ux_addresses_owner_hash"`
	Title       string `gorm:"size:120"`
	Name        string `gorm:"size:255;not null"`
	Phone       string `gorm:"size:64;not null"`
	City        string `gorm:"size:120;not null"`
	District    string `gorm:"size:120"`
	FullAddress string `gorm:"type:text;not null"`
	CreatedAt   time.Time
}

func (addressModel) TableName() string { return "addresses" }

func (m addressModel) toDomain() domain.Address {
	return domain.Address{
		ID:          m.ID,
		CustomerID:  m.CustomerID,
		Title:       m.Title,
		Name:        m.Name,
		Phone:       m.Phone,
		City:        m.City,
		District:    m.District,
		FullAddress: m.FullAddress,
		Hash:        m.Hash,
		CreatedAt:   m.CreatedAt,
	}
}

func addressFromDomain(a domain.Address) addressModel {
	return addressModel{
		ID:          a.ID,
		CustomerID:  a.CustomerID,
		Hash:        a.Hash,
		Title:       a.Title,
		Name:        a.Name,
		Phone:       a.Phone,
		City:        a.City,
		District:    a.District,
		FullAddress: a.FullAddress,
		CreatedAt:   a.CreatedAt,
	}
}

type orderModel struct {
	ID                string           `gorm:"primaryKey;size:26"`
	OrderNumber       string           `gorm:"size:32;not null;uniqueIndex"`
	Status            string           `gorm:"size:16;not null;index"`
	PaymentStatus     string           `gorm:"size:16;not null"`
	CustomerID        string           `gorm:"size:26;not null;index"`
	CustomerKind      string           `gorm:"size:16;not null"`
	CustomerUID       string           `gorm:"size:128"`
	CustomerEmail     string           `gorm:"size:255"`
	CustomerName      string           `gorm:"size:255"`
	CustomerPhone     string           `gorm:"size:64"`
	Currency          string           `gorm:"size:3;not null"`
	Subtotal          int64            `gorm:"not null"`
	ShippingFee       int64            `gorm:"not null"`
	TaxAmount         int64            `gorm:"not null"`
	DiscountAmount    int64            `gorm:"not null"`
	FinalAmount       int64            `gorm:"not null"`
	ShippingAddressID string           `gorm:"size:26;not null"`
	BillingAddressID  string           `gorm:"size:26;not null"`
	Notes             string           `gorm:"type:text"`
	StatusNote        string           `gorm:"size:512"`
	Items             []orderItemModel `gorm:"foreignKey:OrderID"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
}

func (orderModel) TableName() string { return "orders" }

func (m orderModel) toDomain() domain.Order {
	order := domain.Order{
		ID:            m.ID,
		OrderNumber:   m.OrderNumber,
		Status:        domain.OrderStatus(m.Status),
		PaymentStatus: domain.PaymentStatus(m.PaymentStatus),
		CustomerID:    m.CustomerID,
		CustomerKind:  domain.CustomerKind(m.CustomerKind),
		CustomerUID:   m.CustomerUID,
		CustomerEmail: m.CustomerEmail,
		CustomerName:  m.CustomerName,
		CustomerPhone: m.CustomerPhone,
		Currency:      m.Currency,
		Totals: domain.OrderTotals{
			Subtotal:    m.Subtotal,
			ShippingFee: m.ShippingFee,
			Tax:         m.TaxAmount,
			Discount:    m.DiscountAmount,
			Final:       m.FinalAmount,
		},
		ShippingAddressID: m.ShippingAddressID,
		BillingAddressID:  m.BillingAddressID,
		Notes:             m.Notes,
		StatusNote:        m.StatusNote,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.PaidAt != nil {
		paid := *m.PaidAt
		order.PaidAt = &paid
	}
	if len(m.Items) > 0 {
		order.Items = make([]domain.OrderItem, 0, len(m.Items))
		for _, item := range m.Items {
			order.Items = append(order.Items, item.toDomain())
		}
	}
	return order
}

func orderFromDomain(o domain.Order) orderModel {
	m := orderModel{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		CustomerID:        o.CustomerID,
		CustomerKind:      string(o.CustomerKind),
		CustomerUID:       o.CustomerUID,
		CustomerEmail:     o.CustomerEmail,
		CustomerName:      o.CustomerName,
		CustomerPhone:     o.CustomerPhone,
		Currency:          o.Currency,
		Subtotal:          o.Totals.Subtotal,
		ShippingFee:       o.Totals.ShippingFee,
		TaxAmount:         o.Totals.Tax,
		DiscountAmount:    o.Totals.Discount,
		FinalAmount:       o.Totals.Final,
		ShippingAddressID: o.ShippingAddressID,
		BillingAddressID:  o.BillingAddressID,
		Notes:             o.Notes,
		StatusNote:        o.StatusNote,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		PaidAt:            o.PaidAt,
	}
	for _, item := range o.Items {
		m.Items = append(m.Items, orderItemFromDomain(item))
	}
	return m
}

type orderItemModel struct {
	ID          string `gorm:"primaryKey;size:26"`
	OrderID     string `gorm:"size:26;not null;index"`
	ProductID   string `gorm:"size:26;not null"`
	VariationID string `gorm:"size:26"`
	Name        string `gorm:"size:255;not null"`
	Quantity    int64  `gorm:"not null"`
	UnitPrice   int64  `gorm:"not null"`
	TotalPrice  int64  `gorm:"not null"`
}

func (orderItemModel) TableName() string { return "order_items" }

func (m orderItemModel) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		VariationID: m.VariationID,
		Name:        m.Name,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		Total:       m.TotalPrice,
	}
}

func orderItemFromDomain(i domain.OrderItem) orderItemModel {
	return orderItemModel{
		ID:          i.ID,
		OrderID:     i.OrderID,
		ProductID:   i.ProductID,
		VariationID: i.VariationID,
		Name:        i.Name,
		Quantity:    i.Quantity,
		UnitPrice:   i.UnitPrice,
		TotalPrice:  i.Total,
	}
}

type paymentModel struct {
	ID              string `gorm:"primaryKey;size:26"`
	OrderID         string `gorm:"size:26;not null;uniqueIndex:ux_payments_order_tx;index"`
	TransactionID   string `gorm:"size:128;not null;uniqueIndex:ux_payments_order_tx"`
	Provider        string `gorm:"size:32;not null"`
	Method          string `gorm:"size:64"`
	Status          string `gorm:"size:16;not null"`
	Amount          int64  `gorm:"not null"`
	Currency        string `gorm:"size:3;not null"`
	GatewayResponse string `gorm:"type:text"`
	CreatedAt       time.Time
}

func (paymentModel) TableName() string { return "payments" }

func (m paymentModel) toDomain() domain.Payment {
	return domain.Payment{
		ID:              m.ID,
		OrderID:         m.OrderID,
		Provider:        m.Provider,
		Method:          m.Method,
		Status:          domain.PaymentStatus(m.Status),
		Amount:          m.Amount,
		Currency:        m.Currency,
		TransactionID:   m.TransactionID,
		GatewayResponse: m.GatewayResponse,
		CreatedAt:       m.CreatedAt,
	}
}

func paymentFromDomain(p domain.Payment) paymentModel {
	return paymentModel{
		ID:              p.ID,
		OrderID:         p.OrderID,
		TransactionID:   p.TransactionID,
		Provider:        p.Provider,
		Method:          p.Method,
		Status:          string(p.Status),
		Amount:          p.Amount,
		Currency:        p.Currency,
		GatewayResponse: p.GatewayResponse,
		CreatedAt:       p.CreatedAt,
	}
}

type settingModel struct {
	Key       string `gorm:"column:setting_key;primaryKey;size:191"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (settingModel) TableName() string { return "settings" }

// Models lists every table managed by this package in migration order.
func Models() []any {
	return []any{
		&productModel{},
		&variationModel{},
		&customerModel{},
		&addressModel{},
		&orderModel{},
		&orderItemModel{},
		&paymentModel{},
		&settingModel{},
	}
}
