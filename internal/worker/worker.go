package worker

import (
	"context"
	"encoding/json"

	"toystore/internal/broker"
	"toystore/internal/models"
	"toystore/internal/store"
	"toystore/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NotificationWorker consumes committed order transitions and hands them to
// the notification dispatcher. Kafka delivers at least once, so the worker
// dedupes on event id before dispatching: "order shipped" fires once even if
// the same transition is redelivered.
type NotificationWorker struct {
	consumer *broker.Consumer
	store    *store.Store
	logger   *zap.Logger
}

// NewNotificationWorker creates a notification worker.
func NewNotificationWorker(consumer *broker.Consumer, store *store.Store) *NotificationWorker {
	return &NotificationWorker{
		consumer: consumer,
		store:    store,
		logger:   util.GetLogger(),
	}
}

// Start starts the worker loop.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker.
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// A poison message is logged and committed, not retried forever.
		w.logger.Error("Failed to unmarshal notification event", zap.Error(err))
		return nil
	}

	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Notification already dispatched",
			zap.String("event_id", event.EventID))
		return nil
	}

	w.dispatch(&event)

	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// dispatch hands the event to the outbound notification channel. Content and
// delivery live outside this service; the boundary is the event itself.
func (w *NotificationWorker) dispatch(event *models.NotificationEvent) {
	w.logger.Info("Dispatching notification",
		zap.String("event", event.EventType),
		zap.String("order_number", event.OrderNumber),
		zap.Int64("user_id", event.UserID),
		zap.String("status", string(event.Status)))
}
