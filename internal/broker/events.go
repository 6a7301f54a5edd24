package broker

import (
	"context"
	"fmt"
	"time"

	"toystore/internal/models"
	"toystore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationPublisher fans out committed order transitions to the
// notifications topic. It implements the order services' Notifier contract:
// fire-and-forget, so a broker outage never fails an order mutation.
type NotificationPublisher struct {
	producer *Producer
	logger   *zap.Logger
}

// NewNotificationPublisher creates a notification publisher.
func NewNotificationPublisher(producer *Producer) *NotificationPublisher {
	return &NotificationPublisher{
		producer: producer,
		logger:   util.GetLogger(),
	}
}

// Notify publishes one notification event keyed by order so per-order
// ordering is preserved on the topic.
func (np *NotificationPublisher) Notify(ctx context.Context, event string, order *models.Order) {
	msg := models.NotificationEvent{
		EventID:     uuid.New().String(),
		EventType:   event,
		Timestamp:   time.Now(),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
	}

	key := fmt.Sprintf("order-%d", order.ID)
	if err := np.producer.PublishEvent(ctx, key, msg); err != nil {
		np.logger.Error("Failed to publish notification",
			zap.String("event", event),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}

	util.NotificationsPublishedTotal.WithLabelValues(event).Inc()
}
