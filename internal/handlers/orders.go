package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const (
	defaultGuestLookupLimit  = 30
	defaultGuestLookupWindow = time.Minute
)

type orderItemRequest struct {
	ProductID   string `json:"productId"`
	VariationID string `json:"variationId"`
	Quantity    int64  `json:"quantity"`
}

type addressRequest struct {
	Title       string `json:"title"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	City        string `json:"city"`
	District    string `json:"district"`
	FullAddress string `json:"fullAddress"`
}

func (a addressRequest) input() services.AddressInput {
	return services.AddressInput{
		Title:       a.Title,
		Name:        a.Name,
		Phone:       a.Phone,
		City:        a.City,
		District:    a.District,
		FullAddress: a.FullAddress,
	}
}

type contactRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (c *contactRequest) contact() services.GuestContact {
	if c == nil {
		return services.GuestContact{}
	}
	return services.GuestContact{Email: c.Email, Name: c.Name, Phone: c.Phone}
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items"`
	Guest           *contactRequest    `json:"guest"`
	ShippingAddress addressRequest     `json:"shippingAddress"`
	BillingAddress  *addressRequest    `json:"billingAddress"`
	Notes           string             `json:"notes"`
}

type initiatePaymentRequest struct {
	Provider string          `json:"provider"`
	Amount   string          `json:"amount"`
	Email    string          `json:"email"`
	Customer *contactRequest `json:"customer"`
}

type paymentInitiationResponse struct {
	OrderID       string            `json:"orderId"`
	OrderNumber   string            `json:"orderNumber"`
	Provider      string            `json:"provider"`
	TransactionID string            `json:"transactionId"`
	RedirectURL   string            `json:"redirectUrl"`
	FormParams    map[string]string `json:"formParams,omitempty"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
}

// OrderHandlers serves checkout: order creation, order lookup and payment initiation. Callers may
// be registered (Firebase bearer) or guests identified by email.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
	lookups     rateLimiter
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation with the idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithGuestLookupLimit bounds guest order lookups per client IP within window.
func WithGuestLookupLimit(limit int, window time.Duration, clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.lookups = newKeyedLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs the checkout handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
		lookups:  newKeyedLimiter(defaultGuestLookupLimit, defaultGuestLookupWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/payments", h.initiatePayment)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	cmd := services.CreateOrderCommand{
		Actor:           actorFromContext(ctx),
		Guest:           req.Guest.contact(),
		ShippingAddress: req.ShippingAddress.input(),
		Notes:           req.Notes,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.input()
		cmd.BillingAddress = &billing
	}
	cmd.Items = make([]services.LineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.LineRequest{
			ProductID:   strings.TrimSpace(item.ProductID),
			VariationID: strings.TrimSpace(item.VariationID),
			Quantity:    item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	actor := actorFromContext(ctx)
	if !actor.IsAuthenticated() && h.lookups != nil && !h.lookups.Allow(clientIP(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order lookups", http.StatusTooManyRequests))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:    orderID,
		Actor:      actor,
		GuestEmail: strings.TrimSpace(r.URL.Query().Get("email")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req initiatePaymentRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	guestEmail := strings.TrimSpace(req.Email)
	if guestEmail == "" {
		guestEmail = strings.TrimSpace(r.URL.Query().Get("email"))
	}

	initiation, err := h.payments.Initiate(ctx, services.InitiatePaymentCommand{
		OrderID:    orderID,
		Provider:   strings.TrimSpace(req.Provider),
		Amount:     req.Amount,
		Customer:   req.Customer.contact(),
		Actor:      actorFromContext(ctx),
		GuestEmail: guestEmail,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, paymentInitiationResponse{
		OrderID:       initiation.OrderID,
		OrderNumber:   initiation.OrderNumber,
		Provider:      initiation.Provider,
		TransactionID: initiation.TransactionID,
		RedirectURL:   initiation.RedirectURL,
		FormParams:    initiation.FormParams,
		Amount:        domain.FormatAmount(initiation.Amount),
		Currency:      initiation.Currency,
	})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrAddressInvalidInput),
		errors.Is(err, services.ErrSettingsInvalidValue):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrPricingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", notFoundMessage(err), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInsufficientStock),
		errors.Is(err, services.ErrPricingInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPricingInactive):
		httpx.WriteError(ctx, w, httpx.NewError("inactive_entity", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "order could not be stored, retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrSettingsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// notFoundMessage names missing catalog entities. Order misses never say whether the id or the
// guest email was wrong.
func notFoundMessage(err error) string {
	if errors.Is(err, services.ErrPricingNotFound) {
		return err.Error()
	}
	return "order not found"
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("already_paid", "order is already paid", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to pay this order", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "payment storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to initiate payment", http.StatusInternalServerError))
	}
}
