package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/services"
)

var handlerNow = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

type stubOrderService struct {
	createFn       func(context.Context, services.CreateOrderCommand) (domain.Order, error)
	getFn          func(context.Context, services.GetOrderQuery) (domain.Order, error)
	updateFn       func(context.Context, services.UpdateOrderStatusCommand) (domain.Order, error)
	listPaymentsFn func(context.Context, string) ([]domain.Payment, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFn == nil {
		return domain.Order{}, errors.New("unexpected CreateOrder call")
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.GetOrderQuery) (domain.Order, error) {
	if s.getFn == nil {
		return domain.Order{}, errors.New("unexpected GetOrder call")
	}
	return s.getFn(ctx, query)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error) {
	if s.updateFn == nil {
		return domain.Order{}, errors.New("unexpected UpdateStatus call")
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubOrderService) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if s.listPaymentsFn == nil {
		return nil, errors.New("unexpected ListPayments call")
	}
	return s.listPaymentsFn(ctx, orderID)
}

type stubPaymentService struct {
	initiateFn func(context.Context, services.InitiatePaymentCommand) (services.PaymentInitiation, error)
}

func (s *stubPaymentService) Initiate(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
	return s.initiateFn(ctx, cmd)
}

type stubReconcileService struct {
	calls       []services.ReconcileCommand
	reconcileFn func(context.Context, services.ReconcileCommand) (services.ReconcileResult, error)
}

func (s *stubReconcileService) Reconcile(ctx context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
	s.calls = append(s.calls, cmd)
	return s.reconcileFn(ctx, cmd)
}

type stubSettingsService struct {
	putFn       func(context.Context, string, string) (domain.Setting, error)
	invalidated [][]string
	invalidErr  error
}

func (s *stubSettingsService) Get(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (s *stubSettingsService) Decimal(context.Context, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (s *stubSettingsService) Int(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

func (s *stubSettingsService) Bool(context.Context, string) (bool, bool, error) {
	return false, false, nil
}

func (s *stubSettingsService) Duration(context.Context, string) (time.Duration, bool, error) {
	return 0, false, nil
}

func (s *stubSettingsService) Put(ctx context.Context, key, value string) (domain.Setting, error) {
	return s.putFn(ctx, key, value)
}

func (s *stubSettingsService) Invalidate(_ context.Context, keys ...string) error {
	s.invalidated = append(s.invalidated, keys)
	return s.invalidErr
}

type stubSimulator struct {
	received payments.SimulateRequest
	callback payments.MockCallback
	err      error
}

func (s *stubSimulator) Simulate(_ context.Context, req payments.SimulateRequest) (payments.MockCallback, error) {
	s.received = req
	if s.err != nil {
		return payments.MockCallback{}, s.err
	}
	return s.callback, nil
}

// tokenVerifier accepts the tokens it knows and rejects everything else.
type tokenVerifier map[string]*firebaseauth.Token

func (v tokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if token, ok := v[idToken]; ok {
		return token, nil
	}
	return nil, errors.New("token rejected")
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{
		"member-token": {UID: "uid-member", Claims: map[string]any{"email": "member@example.com"}},
		"staff-token":  {UID: "uid-staff", Claims: map[string]any{"role": "staff"}},
	})
}

func sampleOrder() domain.Order {
	paid := handlerNow.Add(time.Minute)
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "SO-260301-ABCDEFGHJK",
		Status:        domain.OrderStatusConfirmed,
		PaymentStatus: domain.PaymentStatusCompleted,
		CustomerKind:  domain.CustomerGuest,
		CustomerEmail: "guest@example.com",
		Currency:      "TRY",
		Totals:        domain.OrderTotals{Subtotal: 30000, ShippingFee: 2999, Final: 32999},
		Items: []domain.OrderItem{
			{ID: "item_1", ProductID: "prod_1", Name: "Mug", Quantity: 2, UnitPrice: 15000, Total: 30000},
		},
		CreatedAt: handlerNow,
		UpdatedAt: handlerNow,
		PaidAt:    &paid,
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}
