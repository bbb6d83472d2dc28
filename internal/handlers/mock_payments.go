package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/services"
)

type paymentSimulator interface {
	Simulate(ctx context.Context, req payments.SimulateRequest) (payments.MockCallback, error)
}

// MockPaymentHandlers serves the simulated bank page the mock gateway redirects to. The page
// decides the outcome, reconciles it like a real callback and sends the customer on to the
// storefront result page.
type MockPaymentHandlers struct {
	simulator     paymentSimulator
	reconcile     services.ReconcileService
	storefrontURL string
}

// NewMockPaymentHandlers constructs the simulated bank page.
func NewMockPaymentHandlers(simulator paymentSimulator, reconcile services.ReconcileService, storefrontURL string) *MockPaymentHandlers {
	return &MockPaymentHandlers{
		simulator:     simulator,
		reconcile:     reconcile,
		storefrontURL: strings.TrimRight(strings.TrimSpace(storefrontURL), "/"),
	}
}

// Routes registers the /payments endpoints.
func (h *MockPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/mock/{orderNumber}", h.simulate)
}

func (h *MockPaymentHandlers) simulate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)
	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	query := r.URL.Query()

	if h.simulator == nil || h.reconcile == nil {
		http.Redirect(w, r, checkoutResultURL(h.storefrontURL, orderNumber, resultError), http.StatusSeeOther)
		return
	}

	callback, err := h.simulator.Simulate(ctx, payments.SimulateRequest{
		OrderNumber:   orderNumber,
		TransactionID: strings.TrimSpace(query.Get("tx")),
		Amount:        strings.TrimSpace(query.Get("amount")),
	})
	if err != nil {
		logger.Warn("mock payment: simulation failed", zap.String("orderNumber", orderNumber), zap.Error(err))
		http.Redirect(w, r, checkoutResultURL(h.storefrontURL, orderNumber, resultError), http.StatusSeeOther)
		return
	}

	body, err := json.Marshal(callback)
	if err != nil {
		logger.Error("mock payment: encode callback", zap.Error(err))
		http.Redirect(w, r, checkoutResultURL(h.storefrontURL, orderNumber, resultError), http.StatusSeeOther)
		return
	}

	result, err := h.reconcile.Reconcile(ctx, services.ReconcileCommand{
		Provider: payments.MockProviderName,
		Body:     body,
	})
	status := callbackStatus(ctx, payments.MockProviderName, result, err)
	http.Redirect(w, r, checkoutResultURL(h.storefrontURL, orderNumber, status), http.StatusSeeOther)
}
