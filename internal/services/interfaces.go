package services

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
)

// Actor is the verified caller identity as seen by the services. A zero Actor is an anonymous
// caller.
type Actor struct {
	UID   string
	Email string
	Roles []string
}

// IsAuthenticated reports whether the actor carries a verified UID.
func (a Actor) IsAuthenticated() bool {
	return strings.TrimSpace(a.UID) != ""
}

// IsStaff reports whether the actor may act on any order.
func (a Actor) IsStaff() bool {
	for _, role := range a.Roles {
		switch strings.ToLower(strings.TrimSpace(role)) {
		case RoleStaff, RoleAdmin:
			return true
		}
	}
	return false
}

// Roles granting access to every order.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// PricingService prices item lines against the live catalog.
type PricingService interface {
	PriceLines(ctx context.Context, lines []LineRequest) (PricedLines, error)
}

// AddressService deduplicates addresses per customer.
type AddressService interface {
	Resolve(ctx context.Context, customerID string, input AddressInput) (domain.Address, error)
}

// SettingsService exposes typed, cached key/value configuration.
type SettingsService interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Decimal(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Int(ctx context.Context, key string) (int64, bool, error)
	Bool(ctx context.Context, key string) (bool, bool, error)
	Duration(ctx context.Context, key string) (time.Duration, bool, error)
	Put(ctx context.Context, key, value string) (domain.Setting, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// OrderService assembles and reads orders.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error)
	ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// PaymentService starts gateway payments after enforcing guardrails.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error)
}

// ReconcileService settles gateway callbacks into order and payment state.
type ReconcileService interface {
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
}

// NotificationPublisher hands notifications to the delivery pipeline.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, notification Notification) (string, error)
}

// LineRequest references a product or a variation. A variation may carry its parent product.
type LineRequest struct {
	ProductID   string
	VariationID string
	Quantity    int64
}

// PricedLine is a validated line with snapshot price.
type PricedLine struct {
	ProductID   string
	VariationID string
	Name        string
	Quantity    int64
	UnitPrice   int64
	Total       int64
	// Limited reports whether the referenced entity tracks stock.
	Limited bool
}

// PricedLines is the result of pricing a cart.
type PricedLines struct {
	Lines    []PricedLine
	Subtotal int64
}

// AddressInput is an address as submitted by the caller.
type AddressInput struct {
	Title       string
	Name        string
	Phone       string
	City        string
	District    string
	FullAddress string
}

// GuestContact identifies a buyer without an account.
type GuestContact struct {
	Email string
	Name  string
	Phone string
}

// CreateOrderCommand carries a checkout submission.
type CreateOrderCommand struct {
	Actor           Actor
	Guest           GuestContact
	Items           []LineRequest
	ShippingAddress AddressInput
	BillingAddress  *AddressInput
	Notes           string
}

// GetOrderQuery looks an order up by ID or number on behalf of Actor.
type GetOrderQuery struct {
	OrderID     string
	OrderNumber string
	Actor       Actor
	GuestEmail  string
}

// UpdateOrderStatusCommand moves an order along its business lifecycle.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
	Note    string
	ActorID string
}

// InitiatePaymentCommand asks a gateway to start charging an order.
type InitiatePaymentCommand struct {
	OrderID    string
	Provider   string
	Amount     string
	Customer   GuestContact
	Actor      Actor
	GuestEmail string
}

// PaymentInitiation tells the client how to reach the gateway.
type PaymentInitiation struct {
	OrderID       string
	OrderNumber   string
	Provider      string
	TransactionID string
	RedirectURL   string
	FormParams    map[string]string
	Amount        int64
	Currency      string
}

// ReconcileCommand carries a raw gateway callback.
type ReconcileCommand struct {
	Provider string
	Form     url.Values
	Body     []byte
}

// ReconcileResult describes how a callback was applied.
type ReconcileResult struct {
	OrderID        string
	OrderNumber    string
	TransactionID  string
	PaymentStatus  domain.PaymentStatus
	Duplicate      bool
	AlreadySettled bool
}

// Notification types emitted by the pipeline.
const (
	NotificationOrderCreated      = "order.created"
	NotificationOrderAdminAlert   = "order.admin_alert"
	NotificationPaymentCompleted  = "payment.completed"
	NotificationPaymentAdminAlert = "payment.admin_alert"
)

// Notification is a fire-and-forget email request.
type Notification struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Recipient   string            `json:"recipient"`
	OrderID     string            `json:"orderId"`
	OrderNumber string            `json:"orderNumber"`
	Data        map[string]string `json:"data,omitempty"`
	OccurredAt  time.Time         `json:"occurredAt"`
}

// Logger is the structured event logger shared by services.
type Logger func(ctx context.Context, event string, fields map[string]any)
