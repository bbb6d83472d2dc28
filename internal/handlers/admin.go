package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type putSettingRequest struct {
	Value string `json:"value"`
}

type settingPayload struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updatedAt"`
}

type paymentPayload struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	Method        string `json:"method,omitempty"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transactionId"`
	CreatedAt     string `json:"createdAt"`
}

// AdminHandlers exposes staff tooling: order inspection, business status changes and settings.
type AdminHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	settings services.SettingsService
}

// NewAdminHandlers constructs the staff endpoints.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, settings services.SettingsService) *AdminHandlers {
	return &AdminHandlers{authn: authn, orders: orders, settings: settings}
}

// Routes registers the /admin endpoints behind the staff role check.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders/{orderID}", h.getOrder)
	r.Put("/orders/{orderID}/status", h.updateStatus)
	r.Get("/orders/{orderID}/payments", h.listPayments)
	r.Put("/settings/{key}", h.putSetting)
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Actor:   actorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:  domain.OrderStatus(req.Status),
		Note:    req.Note,
		ActorID: actorFromContext(ctx).UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	list, err := h.orders.ListPayments(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]paymentPayload, 0, len(list))
	for _, payment := range list {
		items = append(items, paymentPayload{
			ID:            payment.ID,
			Provider:      payment.Provider,
			Method:        payment.Method,
			Status:        string(payment.Status),
			Amount:        domain.FormatAmount(payment.Amount),
			Currency:      payment.Currency,
			TransactionID: payment.TransactionID,
			CreatedAt:     formatTime(payment.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AdminHandlers) putSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req putSettingRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	setting, err := h.settings.Put(ctx, chi.URLParam(r, "key"), req.Value)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settingPayload{
		Key:       setting.Key,
		Value:     setting.Value,
		UpdatedAt: formatTime(setting.UpdatedAt),
	})
}

func writeSettingsError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSettingsInvalidInput),
		errors.Is(err, services.ErrSettingsInvalidValue):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSettingsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "settings storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("settings_error", "failed to update settings", http.StatusInternalServerError))
	}
}
