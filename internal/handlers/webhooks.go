package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/services"
)

const (
	maxCallbackBodySize = 64 * 1024
	checkoutResultPath  = "/checkout/result"

	resultSuccess = "success"
	resultFailed  = "failed"
	resultError   = "error"
)

type mockCallbackAck struct {
	Received  bool   `json:"received"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// PaymentWebhookHandlers receives gateway callbacks. The bank posts the customer's browser back
// with a signed form, so every outcome ends in a redirect to the storefront result page.
type PaymentWebhookHandlers struct {
	reconcile     services.ReconcileService
	storefrontURL string
}

// NewPaymentWebhookHandlers constructs webhook handlers redirecting to storefrontURL.
func NewPaymentWebhookHandlers(reconcile services.ReconcileService, storefrontURL string) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{
		reconcile:     reconcile,
		storefrontURL: strings.TrimRight(strings.TrimSpace(storefrontURL), "/"),
	}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/bank/{result}", h.bankCallback)
	r.Post("/payments/mock", h.mockCallback)
}

func (h *PaymentWebhookHandlers) bankCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	landing := strings.ToLower(chi.URLParam(r, "result"))
	if landing != "ok" && landing != "fail" {
		httpx.WriteError(ctx, w, httpx.NewError("route_not_found", "unknown callback result", http.StatusNotFound))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodySize)
	if err := r.ParseForm(); err != nil {
		observability.FromContext(ctx).Warn("bank callback: unreadable form", zap.Error(err))
		http.Redirect(w, r, h.resultURL("", resultError), http.StatusSeeOther)
		return
	}

	orderNumber := strings.TrimSpace(r.PostForm.Get("oid"))
	if h.reconcile == nil {
		http.Redirect(w, r, h.resultURL(orderNumber, resultError), http.StatusSeeOther)
		return
	}

	result, err := h.reconcile.Reconcile(ctx, services.ReconcileCommand{
		Provider: payments.BankProviderName,
		Form:     r.PostForm,
	})
	status := callbackStatus(ctx, payments.BankProviderName, result, err)
	if result.OrderNumber != "" {
		orderNumber = result.OrderNumber
	}
	if landing == "ok" && status == resultFailed {
		observability.FromContext(ctx).Info("bank callback: declined on ok landing", zap.String("orderNumber", orderNumber))
	}
	http.Redirect(w, r, h.resultURL(orderNumber, status), http.StatusSeeOther)
}

func (h *PaymentWebhookHandlers) mockCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := httpx.ReadLimitedBody(r, maxCallbackBodySize)
	if err != nil || h.reconcile == nil {
		if err != nil {
			observability.FromContext(ctx).Warn("mock callback: unreadable body", zap.Error(err))
		}
		httpx.WriteJSON(w, http.StatusOK, mockCallbackAck{Received: true, Status: resultError})
		return
	}

	result, err := h.reconcile.Reconcile(ctx, services.ReconcileCommand{
		Provider: payments.MockProviderName,
		Body:     body,
	})
	httpx.WriteJSON(w, http.StatusOK, mockCallbackAck{
		Received:  true,
		Status:    callbackStatus(ctx, payments.MockProviderName, result, err),
		Duplicate: result.Duplicate,
	})
}

func (h *PaymentWebhookHandlers) resultURL(orderNumber, status string) string {
	return checkoutResultURL(h.storefrontURL, orderNumber, status)
}

func checkoutResultURL(base, orderNumber, status string) string {
	query := url.Values{}
	if orderNumber != "" {
		query.Set("order", orderNumber)
	}
	query.Set("status", status)
	return base + checkoutResultPath + "?" + query.Encode()
}

// callbackStatus collapses a reconcile outcome into the storefront result vocabulary.
func callbackStatus(ctx context.Context, provider string, result services.ReconcileResult, err error) string {
	if err != nil {
		logger := observability.FromContext(ctx).With(
			zap.String("provider", provider),
			zap.String("orderNumber", result.OrderNumber),
		)
		switch {
		case errors.Is(err, services.ErrReconcileInvalid):
			logger.Warn("payment callback rejected", zap.Error(err))
		case errors.Is(err, services.ErrReconcileAmountMismatch):
			logger.Error("payment callback amount mismatch", zap.Error(err))
		default:
			logger.Error("payment callback failed", zap.Error(err))
		}
		return resultError
	}
	if result.PaymentStatus == domain.PaymentStatusCompleted {
		return resultSuccess
	}
	return resultFailed
}
