package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/services"
)

const maxJSONBodySize = 64 * 1024

// actorFromContext maps the verified Firebase identity, when present, onto the service actor.
func actorFromContext(ctx context.Context) services.Actor {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return services.Actor{}
	}
	return services.Actor{
		UID:   strings.TrimSpace(identity.UID),
		Email: strings.TrimSpace(identity.Email),
		Roles: append([]string(nil), identity.Roles...),
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type orderItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	VariationID string `json:"variationId,omitempty"`
	Name        string `json:"name"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Total       string `json:"total"`
}

type orderTotalsPayload struct {
	Subtotal    string `json:"subtotal"`
	ShippingFee string `json:"shippingFee"`
	Tax         string `json:"tax"`
	Discount    string `json:"discount"`
	Final       string `json:"final"`
}

type orderCustomerPayload struct {
	Kind  string `json:"kind"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type orderPayload struct {
	ID                string               `json:"id"`
	OrderNumber       string               `json:"orderNumber"`
	Status            string               `json:"status"`
	PaymentStatus     string               `json:"paymentStatus"`
	Customer          orderCustomerPayload `json:"customer"`
	Currency          string               `json:"currency"`
	Totals            orderTotalsPayload   `json:"totals"`
	ShippingAddressID string               `json:"shippingAddressId"`
	BillingAddressID  string               `json:"billingAddressId"`
	Notes             string               `json:"notes,omitempty"`
	StatusNote        string               `json:"statusNote,omitempty"`
	Items             []orderItemPayload   `json:"items"`
	CreatedAt         string               `json:"createdAt"`
	UpdatedAt         string               `json:"updatedAt"`
	PaidAt            string               `json:"paidAt,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   domain.FormatAmount(item.UnitPrice),
			Total:       domain.FormatAmount(item.Total),
		})
	}
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Customer: orderCustomerPayload{
			Kind:  string(order.CustomerKind),
			Email: order.CustomerEmail,
			Name:  order.CustomerName,
			Phone: order.CustomerPhone,
		},
		Currency: order.Currency,
		Totals: orderTotalsPayload{
			Subtotal:    domain.FormatAmount(order.Totals.Subtotal),
			ShippingFee: domain.FormatAmount(order.Totals.ShippingFee),
			Tax:         domain.FormatAmount(order.Totals.Tax),
			Discount:    domain.FormatAmount(order.Totals.Discount),
			Final:       domain.FormatAmount(order.Totals.Final),
		},
		ShippingAddressID: order.ShippingAddressID,
		BillingAddressID:  order.BillingAddressID,
		Notes:             order.Notes,
		StatusNote:        order.StatusNote,
		Items:             items,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
	if order.PaidAt != nil {
		payload.PaidAt = formatTime(*order.PaidAt)
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
