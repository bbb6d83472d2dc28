package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
)

type stubGateway struct {
	initiateFn func(ctx context.Context, provider string, req payments.InitiateRequest) (payments.Initiation, error)
	parseFn    func(ctx context.Context, provider string, req payments.CallbackRequest) (payments.CallbackResult, error)
}

func (s *stubGateway) Initiate(ctx context.Context, provider string, req payments.InitiateRequest) (payments.Initiation, error) {
	if s.initiateFn == nil {
		return payments.Initiation{}, errors.New("not implemented")
	}
	return s.initiateFn(ctx, provider, req)
}

func (s *stubGateway) ParseCallback(ctx context.Context, provider string, req payments.CallbackRequest) (payments.CallbackResult, error) {
	if s.parseFn == nil {
		return payments.CallbackResult{}, errors.New("not implemented")
	}
	return s.parseFn(ctx, provider, req)
}

func createPaidCandidate(t *testing.T, p *pipeline) domain.Order {
	t.Helper()
	p.seedProduct(t, domain.Product{ID: "p1", Name: "Mug", Price: 10000, Active: true, Stock: domain.LimitedStock(5)})
	p.putSetting(t, SettingShippingDefaultCost, "29.99")
	p.putSetting(t, SettingShippingFreeThreshold, "500")
	order, err := p.orders.CreateOrder(context.Background(), guestOrder("a@b.com", LineRequest{ProductID: "p1", Quantity: 3}))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestInitiatePaymentWithMockGateway(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	order := createPaidCandidate(t, p)

	initiation, err := p.payments.Initiate(ctx, InitiatePaymentCommand{
		OrderID:    order.ID,
		Provider:   payments.MockProviderName,
		Amount:     "329.99",
		GuestEmail: "A@B.COM",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if initiation.Provider != payments.MockProviderName || initiation.Amount != 32999 || initiation.Currency != "TRY" {
		t.Fatalf("unexpected initiation %+v", initiation)
	}
	if !strings.Contains(initiation.RedirectURL, "/api/v1/payments/mock/"+order.OrderNumber) {
		t.Fatalf("unexpected redirect %s", initiation.RedirectURL)
	}

	stored, err := p.registry.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if !strings.Contains(stored.StatusNote, initiation.TransactionID) {
		t.Fatalf("expected status note to reference transaction, got %q", stored.StatusNote)
	}
	if stored.PaymentStatus != domain.PaymentStatusPending || stored.Status != domain.OrderStatusPending {
		t.Fatalf("initiation must not change statuses, got %s/%s", stored.Status, stored.PaymentStatus)
	}
	if n := p.countRows(t, "payments"); n != 0 {
		t.Fatalf("initiation must not create payment rows, got %d", n)
	}
}

func TestInitiatePaymentGuardrails(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	order := createPaidCandidate(t, p)

	cases := []struct {
		name string
		cmd  InitiatePaymentCommand
		want error
	}{
		{name: "missing order", cmd: InitiatePaymentCommand{OrderID: "missing", Amount: "329.99", GuestEmail: "a@b.com"}, want: ErrPaymentNotFound},
		{name: "wrong email", cmd: InitiatePaymentCommand{OrderID: order.ID, Amount: "329.99", GuestEmail: "x@y.com"}, want: ErrPaymentForbidden},
		{name: "anonymous", cmd: InitiatePaymentCommand{OrderID: order.ID, Amount: "329.99"}, want: ErrPaymentForbidden},
		{name: "underpay", cmd: InitiatePaymentCommand{OrderID: order.ID, Amount: "300.00", GuestEmail: "a@b.com"}, want: ErrPaymentAmountMismatch},
		{name: "overpay", cmd: InitiatePaymentCommand{OrderID: order.ID, Amount: "329.991", GuestEmail: "a@b.com"}, want: ErrPaymentInvalidInput},
		{name: "garbage amount", cmd: InitiatePaymentCommand{OrderID: order.ID, Amount: "abc", GuestEmail: "a@b.com"}, want: ErrPaymentInvalidInput},
		{name: "unknown provider", cmd: InitiatePaymentCommand{OrderID: order.ID, Provider: "paypal", Amount: "329.99", GuestEmail: "a@b.com"}, want: ErrPaymentInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.payments.Initiate(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInitiatePaymentAlreadyPaidForAnyCaller(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	order := createPaidCandidate(t, p)

	body := mockCallbackBody(t, order.OrderNumber, "MOCK-paid-1", "329.99", "success")
	if _, err := p.reconcile.Reconcile(ctx, ReconcileCommand{Provider: payments.MockProviderName, Body: body}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	for _, cmd := range []InitiatePaymentCommand{
		{OrderID: order.ID, Amount: "329.99", GuestEmail: "a@b.com"},
		{OrderID: order.ID, Amount: "1.00", GuestEmail: "intruder@example.com"},
		{OrderID: order.ID, Amount: "329.99"},
	} {
		if _, err := p.payments.Initiate(ctx, cmd); !errors.Is(err, ErrPaymentAlreadyPaid) {
			t.Fatalf("expected already paid, got %v", err)
		}
	}
}

func TestInitiatePaymentGatewayFailure(t *testing.T) {
	p := newPipeline(t)
	order := createPaidCandidate(t, p)

	var got payments.InitiateRequest
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:     p.registry.Orders(),
		UnitOfWork: p.registry,
		Gateway: &stubGateway{initiateFn: func(_ context.Context, _ string, req payments.InitiateRequest) (payments.Initiation, error) {
			got = req
			return payments.Initiation{}, errors.New("store key missing")
		}},
	})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	_, err = svc.Initiate(context.Background(), InitiatePaymentCommand{
		OrderID:  order.ID,
		Amount:   "329.99",
		Actor:    Actor{UID: "staff-1", Roles: []string{RoleStaff}},
		Customer: GuestContact{Name: "Override Name"},
	})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if got.Amount != 32999 || got.OrderNumber != order.OrderNumber {
		t.Fatalf("unexpected gateway request %+v", got)
	}
	if got.Customer.Name != "Override Name" || got.Customer.Email != "a@b.com" {
		t.Fatalf("expected contact defaults from the order, got %+v", got.Customer)
	}
}

func TestNewPaymentServiceValidatesDeps(t *testing.T) {
	if _, err := NewPaymentService(PaymentServiceDeps{}); err == nil {
		t.Fatalf("expected error without order repository")
	}
}
