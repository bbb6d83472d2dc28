package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

type invalidateSettingsRequest struct {
	Keys []string `json:"keys"`
}

// InternalSettingsHandlers lets the external settings UI flush cached values after it writes the
// settings table directly. Requests are HMAC signed; the router applies the check.
type InternalSettingsHandlers struct {
	settings services.SettingsService
}

// NewInternalSettingsHandlers constructs the invalidation endpoint.
func NewInternalSettingsHandlers(settings services.SettingsService) *InternalSettingsHandlers {
	return &InternalSettingsHandlers{settings: settings}
}

// Routes registers the /internal endpoints.
func (h *InternalSettingsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/settings:invalidate", h.invalidate)
}

func (h *InternalSettingsHandlers) invalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req invalidateSettingsRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if err := h.settings.Invalidate(ctx, req.Keys...); err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	scope := "all"
	if len(req.Keys) > 0 {
		scope = "keys"
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"invalidated": scope, "keys": len(req.Keys)})
}
