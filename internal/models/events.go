package models

import (
	"encoding/json"
	"time"
)

// Payment gateway webhook event names
const (
	WebhookPaymentAuthorized = "payment.authorized"
	WebhookPaymentCaptured   = "payment.captured"
	WebhookPaymentFailed     = "payment.failed"
	WebhookRefundCreated     = "refund.created"
	WebhookRefundProcessed   = "refund.processed"
)

// WebhookEnvelope is the provider-defined outer event shape for both the
// payment gateway and the shipping carrier.
type WebhookEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PaymentWebhookPayload is the nested payload of a payment gateway event.
// GatewayOrderID resolves payment events; GatewayPaymentID resolves refunds.
type PaymentWebhookPayload struct {
	GatewayOrderID   string `json:"order_id"`
	GatewayPaymentID string `json:"payment_id"`
	GatewayRefundID  string `json:"refund_id,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Reason           string `json:"reason,omitempty"`
}

// CarrierWebhookPayload is the nested payload of a carrier status event,
// keyed by AWB code.
type CarrierWebhookPayload struct {
	AWBCode       string `json:"awb"`
	CurrentStatus string `json:"current_status"`
	DeliveredDate string `json:"delivered_date,omitempty"` // YYYY-MM-DD when present
}

// Notification event names, published to Kafka after an order transition
// commits and consumed by the notification worker.
const (
	NotifyOrderConfirmed  = "ORDER_CONFIRMED"
	NotifyOrderProcessing = "ORDER_PROCESSING"
	NotifyOrderShipped    = "ORDER_SHIPPED"
	NotifyOrderDelivered  = "ORDER_DELIVERED"
	NotifyOrderCancelled  = "ORDER_CANCELLED"
	NotifyPaymentFailed   = "PAYMENT_FAILED"
	NotifyRefundStarted   = "REFUND_STARTED"
	NotifyRefundCompleted = "REFUND_COMPLETED"
)

// NotificationEvent is the fan-out message for a committed order transition.
// EventID makes redelivery detectable on the consumer side.
type NotificationEvent struct {
	EventID     string      `json:"event_id"`
	EventType   string      `json:"event_type"`
	Timestamp   time.Time   `json:"timestamp"`
	OrderID     int64       `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      int64       `json:"user_id"`
	Status      OrderStatus `json:"status"`
}
