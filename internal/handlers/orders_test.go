package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/services"
)

func orderRouter(h *OrderHandlers) http.Handler {
	return NewRouter(WithOrderRoutes(h.Routes))
}

func TestCreateOrderGuest(t *testing.T) {
	var got services.CreateOrderCommand
	orders := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
		got = cmd
		order := sampleOrder()
		order.Status, order.PaymentStatus, order.PaidAt = domain.OrderStatusPending, domain.PaymentStatusPending, nil
		return order, nil
	}}
	router := orderRouter(NewOrderHandlers(testAuthenticator(), orders, nil))

	body := `{"items":[{"productId":" prod_1 ","quantity":2}],"guest":{"email":"guest@example.com","name":"Ada"},` +
		`"shippingAddress":{"name":"Ada","phone":"555","city":"Istanbul","district":"Kadikoy","fullAddress":"Moda 1"},"notes":"ring"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/orders", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Actor.IsAuthenticated() {
		t.Fatalf("expected anonymous actor, got %+v", got.Actor)
	}
	if got.Guest.Email != "guest@example.com" || len(got.Items) != 1 || got.Items[0].ProductID != "prod_1" {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.BillingAddress != nil || got.ShippingAddress.City != "Istanbul" {
		t.Fatalf("unexpected addresses %+v", got)
	}

	payload := decodeBody[orderPayload](t, rr)
	if payload.Totals.Subtotal != "300.00" || payload.Totals.ShippingFee != "29.99" || payload.Totals.Final != "329.99" {
		t.Fatalf("unexpected totals %+v", payload.Totals)
	}
	if payload.Items[0].UnitPrice != "150.00" || payload.PaidAt != "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCreateOrderRegisteredActor(t *testing.T) {
	var got services.CreateOrderCommand
	orders := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
		got = cmd
		return sampleOrder(), nil
	}}
	router := orderRouter(NewOrderHandlers(testAuthenticator(), orders, nil))

	req := jsonRequest(http.MethodPost, "/api/v1/orders", `{"items":[{"variationId":"var_1","quantity":1}],"shippingAddress":{"fullAddress":"x"}}`)
	req.Header.Set("Authorization", "Bearer member-token")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Actor.UID != "uid-member" || got.Actor.Email != "member@example.com" {
		t.Fatalf("expected identity mapped onto actor, got %+v", got.Actor)
	}
}

func TestCreateOrderRejectsBadToken(t *testing.T) {
	router := orderRouter(NewOrderHandlers(testAuthenticator(), &stubOrderService{}, nil))
	req := jsonRequest(http.MethodPost, "/api/v1/orders", `{}`)
	req.Header.Set("Authorization", "Bearer forged")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreateOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: at least one item is required", services.ErrOrderInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"address", fmt.Errorf("%w: city is required", services.ErrAddressInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"unknown product", fmt.Errorf("%w: product prod_9", services.ErrPricingNotFound), http.StatusNotFound, "not_found"},
		{"stock", fmt.Errorf("%w: Mug", services.ErrPricingInsufficientStock), http.StatusConflict, "insufficient_stock"},
		{"racing stock", services.ErrOrderInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{"inactive", fmt.Errorf("%w: Mug", services.ErrPricingInactive), http.StatusUnprocessableEntity, "inactive_entity"},
		{"storage", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
				return domain.Order{}, tc.err
			}}
			router := orderRouter(NewOrderHandlers(nil, orders, nil))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/orders", `{"items":[]}`))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if env := decodeBody[errorEnvelope](t, rr); env.Error != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, env.Error)
			}
		})
	}
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	router := orderRouter(NewOrderHandlers(nil, &stubOrderService{}, nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/orders", `{"items":[],"price":"0.01"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateOrderIdempotencyReplay(t *testing.T) {
	calls := 0
	orders := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
		calls++
		return sampleOrder(), nil
	}}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithOptionalKey())
	router := orderRouter(NewOrderHandlers(nil, orders, nil, WithOrderIdempotency(mw)))

	for i := 0; i < 2; i++ {
		req := jsonRequest(http.MethodPost, "/api/v1/orders", `{"items":[{"productId":"prod_1","quantity":1}]}`)
		req.Header.Set("Idempotency-Key", "checkout-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, rr.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single order creation, got %d", calls)
	}
}

func TestGetOrderGuestEmail(t *testing.T) {
	var got services.GetOrderQuery
	orders := &stubOrderService{getFn: func(_ context.Context, query services.GetOrderQuery) (domain.Order, error) {
		got = query
		if query.GuestEmail != "guest@example.com" {
			return domain.Order{}, services.ErrOrderNotFound
		}
		return sampleOrder(), nil
	}}
	router := orderRouter(NewOrderHandlers(nil, orders, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1?email=guest@example.com", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.OrderID != "ord_1" {
		t.Fatalf("expected order id from path, got %q", got.OrderID)
	}
	if payload := decodeBody[orderPayload](t, rr); payload.PaidAt == "" || payload.PaymentStatus != "COMPLETED" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1?email=other@example.com", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for wrong email, got %d", rr.Code)
	}
	if env := decodeBody[errorEnvelope](t, rr); env.Message != "order not found" {
		t.Fatalf("expected opaque message, got %q", env.Message)
	}
}

func TestGetOrderGuestLookupsAreRateLimited(t *testing.T) {
	orders := &stubOrderService{getFn: func(context.Context, services.GetOrderQuery) (domain.Order, error) {
		return domain.Order{}, services.ErrOrderNotFound
	}}
	now := handlerNow
	router := orderRouter(NewOrderHandlers(testAuthenticator(), orders, nil,
		WithGuestLookupLimit(2, time.Minute, func() time.Time { return now })))

	codes := make([]int, 0, 4)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1?email=x@example.com", nil))
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusNotFound || codes[1] != http.StatusNotFound || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	req.Header.Set("Authorization", "Bearer member-token")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("authenticated lookups are not limited, got %d", rr.Code)
	}

	now = now.Add(2 * time.Minute)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1?email=x@example.com", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestInitiatePayment(t *testing.T) {
	var got services.InitiatePaymentCommand
	svc := &stubPaymentService{initiateFn: func(_ context.Context, cmd services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
		got = cmd
		return services.PaymentInitiation{
			OrderID:       cmd.OrderID,
			OrderNumber:   "SO-260301-ABCDEFGHJK",
			Provider:      "bank",
			TransactionID: "rnd-1",
			RedirectURL:   "https://bank.example.com/fim/est3Dgate",
			FormParams:    map[string]string{"oid": "SO-260301-ABCDEFGHJK", "hash": "abc"},
			Amount:        32999,
			Currency:      "TRY",
		}, nil
	}}
	router := orderRouter(NewOrderHandlers(nil, nil, svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/orders/ord_1/payments",
		`{"provider":"bank","amount":"329.99","email":"guest@example.com","customer":{"name":"Ada"}}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_1" || got.Amount != "329.99" || got.GuestEmail != "guest@example.com" || got.Customer.Name != "Ada" {
		t.Fatalf("unexpected command %+v", got)
	}
	resp := decodeBody[paymentInitiationResponse](t, rr)
	if resp.Amount != "329.99" || resp.FormParams["oid"] != "SO-260301-ABCDEFGHJK" || resp.RedirectURL == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInitiatePaymentErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
		{services.ErrPaymentAlreadyPaid, http.StatusConflict, "already_paid"},
		{services.ErrPaymentForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: expected 329.99", services.ErrPaymentAmountMismatch), http.StatusUnprocessableEntity, "amount_mismatch"},
		{fmt.Errorf("%w: timeout", services.ErrPaymentGateway), http.StatusBadGateway, "gateway_error"},
		{fmt.Errorf("%w: unknown provider", services.ErrPaymentInvalidInput), http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubPaymentService{initiateFn: func(context.Context, services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
				return services.PaymentInitiation{}, tc.err
			}}
			router := orderRouter(NewOrderHandlers(nil, nil, svc))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/orders/ord_1/payments", `{"amount":"1.00"}`))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if env := decodeBody[errorEnvelope](t, rr); env.Error != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, env.Error)
			}
		})
	}
}
