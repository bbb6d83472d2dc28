package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/services"
)

// PubSubNotificationPublisher hands order and payment notifications to the mail worker through a
// Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification enqueues the notification and waits for the server-assigned message ID.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, notification services.Notification) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(notification)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "notificationId", notification.ID)
	setAttr(attrs, "type", notification.Type)
	setAttr(attrs, "orderId", notification.OrderID)
	setAttr(attrs, "orderNumber", notification.OrderNumber)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

// LogNotificationPublisher writes notifications to the log instead of a broker. It backs local
// runs where no topic is configured.
type LogNotificationPublisher struct {
	logger *zap.Logger
}

// NewLogNotificationPublisher returns a publisher that only logs.
func NewLogNotificationPublisher(logger *zap.Logger) *LogNotificationPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationPublisher{logger: logger}
}

// PublishNotification logs the notification and echoes its ID.
func (p *LogNotificationPublisher) PublishNotification(_ context.Context, notification services.Notification) (string, error) {
	p.logger.Info("notification",
		zap.String("id", notification.ID),
		zap.String("type", notification.Type),
		zap.String("orderNumber", notification.OrderNumber),
		zap.String("recipient", notification.Recipient),
	)
	return notification.ID, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
