package domain

import (
	"time"
)

// OrderStatus enumerates the business lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state after the order is assembled.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed indicates payment settled and the order was accepted.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing indicates fulfilment has started.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the customer received the parcel.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled by staff.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus enumerates the payment lifecycle. It evolves independently from OrderStatus.
type PaymentStatus string

const (
	// PaymentStatusPending means no settled attempt exists yet.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusCompleted means a gateway confirmed the charge. Terminal.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	// PaymentStatusFailed means the latest attempt was declined.
	PaymentStatusFailed PaymentStatus = "FAILED"
)

// CustomerKind tags how an order's buyer was identified.
type CustomerKind string

const (
	// CustomerRegistered identifies buyers authenticated by the identity provider.
	CustomerRegistered CustomerKind = "registered"
	// CustomerGuest identifies buyers known only by email.
	CustomerGuest CustomerKind = "guest"
)

// Customer is the ownership record for orders and addresses. Registered customers are keyed
// by their identity provider UID, guests by their case-folded email. It never holds credentials.
type Customer struct {
	ID        string
	Kind      CustomerKind
	Key       string
	Email     string
	Name      string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RegisteredCustomer builds the registered variant for the given UID.
func RegisteredCustomer(uid, email, name, phone string) Customer {
	return Customer{Kind: CustomerRegistered, Key: uid, Email: email, Name: name, Phone: phone}
}

// GuestCustomer builds the guest variant. The key must already be case-folded.
func GuestCustomer(key, email, name, phone string) Customer {
	return Customer{Kind: CustomerGuest, Key: key, Email: email, Name: name, Phone: phone}
}

// IsGuest reports whether the customer checked out without an account.
func (c Customer) IsGuest() bool {
	return c.Kind == CustomerGuest
}

// Address is a reusable shipping or billing address owned by one customer.
type Address struct {
	ID          string
	CustomerID  string
	Title       string
	Name        string
	Phone       string
	City        string
	District    string
	FullAddress string
	Hash        string
	CreatedAt   time.Time
}

// OrderTotals holds monetary amounts in minor units.
type OrderTotals struct {
	Subtotal    int64
	ShippingFee int64
	Tax         int64
	Discount    int64
	Final       int64
}

// ComputeFinal returns Subtotal + ShippingFee - Discount. Tax is a pass-through and is
// already included in catalog prices.
func (t OrderTotals) ComputeFinal() int64 {
	return t.Subtotal + t.ShippingFee - t.Discount
}

// Order is the durable record of a purchase intent.
type Order struct {
	ID                string
	OrderNumber       string
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	CustomerID        string
	CustomerKind      CustomerKind
	CustomerUID       string
	CustomerEmail     string
	CustomerName      string
	CustomerPhone     string
	Currency          string
	Totals            OrderTotals
	ShippingAddressID string
	BillingAddressID  string
	Notes             string
	StatusNote        string
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
}

// OrderItem snapshots one purchased line. Items are immutable after creation.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	VariationID string
	Name        string
	Quantity    int64
	UnitPrice   int64
	Total       int64
}

// Payment records one settlement attempt reported by a gateway callback.
type Payment struct {
	ID              string
	OrderID         string
	Provider        string
	Method          string
	Status          PaymentStatus
	Amount          int64
	Currency        string
	TransactionID   string
	GatewayResponse string
	CreatedAt       time.Time
}

// Setting is a raw key/value configuration entry.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
