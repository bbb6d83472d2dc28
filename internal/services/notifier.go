package services

import (
	"context"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

// notifier fans a pipeline event out to the customer and the shop administrator. Delivery
// failures are logged and never returned.
type notifier struct {
	publisher  NotificationPublisher
	settings   SettingsService
	adminEmail string
	newID      func() string
	logger     Logger
}

func (n *notifier) adminRecipient(ctx context.Context) string {
	if n.settings != nil {
		value, ok, err := n.settings.Get(ctx, SettingAdminEmail)
		if err != nil {
			n.logger(ctx, "notification.admin_email.lookup.failed", map[string]any{"error": err.Error()})
		} else if ok && validEmail(value) {
			return strings.TrimSpace(value)
		}
	}
	return n.adminEmail
}

func (n *notifier) notify(ctx context.Context, order domain.Order, customerType, adminType string, at time.Time, data map[string]string) {
	if n == nil || n.publisher == nil {
		return
	}
	var batch []Notification
	if email := strings.TrimSpace(order.CustomerEmail); email != "" && customerType != "" {
		batch = append(batch, n.build(order, customerType, email, at, data))
	}
	if adminType != "" {
		if admin := n.adminRecipient(ctx); admin != "" {
			batch = append(batch, n.build(order, adminType, admin, at, data))
		}
	}
	for _, msg := range batch {
		id, err := n.publisher.PublishNotification(ctx, msg)
		if err != nil {
			n.logger(ctx, "notification.publish.failed", map[string]any{
				"type":        msg.Type,
				"orderId":     msg.OrderID,
				"orderNumber": msg.OrderNumber,
				"error":       err.Error(),
			})
			continue
		}
		n.logger(ctx, "notification.published", map[string]any{
			"type":      msg.Type,
			"orderId":   msg.OrderID,
			"messageId": id,
		})
	}
}

func (n *notifier) build(order domain.Order, kind, recipient string, at time.Time, data map[string]string) Notification {
	payload := map[string]string{
		"status":        string(order.Status),
		"paymentStatus": string(order.PaymentStatus),
		"finalAmount":   domain.FormatAmount(order.Totals.Final),
		"currency":      order.Currency,
	}
	if order.CustomerName != "" {
		payload["customerName"] = order.CustomerName
	}
	for k, v := range data {
		payload[k] = v
	}
	return Notification{
		ID:          n.newID(),
		Type:        kind,
		Recipient:   recipient,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Data:        payload,
		OccurredAt:  at,
	}
}
