package service

import (
	"encoding/json"
	"testing"
	"time"

	"toystore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reconcileNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func paymentPayload(orderID, paymentID string) *models.PaymentWebhookPayload {
	return &models.PaymentWebhookPayload{
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
	}
}

func TestReconcileCapturedConfirmsAndRecordsPaymentID(t *testing.T) {
	o := newOrder(models.OrderStatusPending, models.PaymentStatusPending)

	tr, applied, note := ReconcilePaymentEvent(o,
		models.WebhookPaymentCaptured,
		paymentPayload("gw_order_1", "gw_pay_1"),
		json.RawMessage(`{}`), reconcileNow)

	require.True(t, applied)
	assert.Empty(t, note)
	assert.Equal(t, models.OrderStatusConfirmed, o.Status)
	assert.Equal(t, models.PaymentStatusCaptured, o.PaymentStatus)
	assert.Equal(t, "gw_pay_1", o.GatewayPaymentID.String)
	assert.Contains(t, tr.Notify, models.NotifyOrderConfirmed)
	assert.True(t, o.PaymentDetails.Seen(models.WebhookPaymentCaptured, "gw_pay_1"))
}

func TestReconcileIdenticalReplayIsDuplicate(t *testing.T) {
	o := newOrder(models.OrderStatusPending, models.PaymentStatusPending)
	p := paymentPayload("gw_order_1", "gw_pay_1")

	_, applied, _ := ReconcilePaymentEvent(o, models.WebhookPaymentCaptured, p, json.RawMessage(`{}`), reconcileNow)
	require.True(t, applied)

	_, applied, note := ReconcilePaymentEvent(o, models.WebhookPaymentCaptured, p, json.RawMessage(`{}`), reconcileNow)
	assert.False(t, applied)
	assert.Equal(t, "duplicate", note)
	assert.Len(t, o.PaymentDetails, 1)
}

func TestReconcileAuthorizedAfterCapturedIsStale(t *testing.T) {
	o := newOrder(models.OrderStatusPending, models.PaymentStatusPending)
	p := paymentPayload("gw_order_1", "gw_pay_1")

	_, applied, _ := ReconcilePaymentEvent(o, models.WebhookPaymentCaptured, p, json.RawMessage(`{}`), reconcileNow)
	require.True(t, applied)

	_, applied, note := ReconcilePaymentEvent(o, models.WebhookPaymentAuthorized, p, json.RawMessage(`{}`), reconcileNow)

	// The late authorization merges into the log but never touches state.
	assert.False(t, applied)
	assert.Equal(t, "stale", note)
	assert.Equal(t, models.PaymentStatusCaptured, o.PaymentStatus)
	assert.True(t, o.PaymentDetails.Seen(models.WebhookPaymentAuthorized, "gw_pay_1"))
}

func TestReconcileFailedAfterCapturedIsStale(t *testing.T) {
	o := newOrder(models.OrderStatusConfirmed, models.PaymentStatusCaptured)

	_, applied, note := ReconcilePaymentEvent(o,
		models.WebhookPaymentFailed,
		paymentPayload("gw_order_1", "gw_pay_1"),
		json.RawMessage(`{}`), reconcileNow)

	assert.False(t, applied)
	assert.Equal(t, "stale", note)
	assert.Equal(t, models.PaymentStatusCaptured, o.PaymentStatus)
}

func TestReconcileRefundLifecycle(t *testing.T) {
	o := newOrder(models.OrderStatusDelivered, models.PaymentStatusCaptured)
	p := paymentPayload("gw_order_1", "gw_pay_1")
	p.GatewayRefundID = "gw_rfnd_1"
	p.Amount = 50000

	_, applied, _ := ReconcilePaymentEvent(o, models.WebhookRefundCreated, p, json.RawMessage(`{}`), reconcileNow)
	require.True(t, applied)
	assert.Equal(t, models.RefundStatusProcessing, o.RefundStatus)
	assert.Equal(t, int64(50000), o.RefundAmount)

	tr, applied, _ := ReconcilePaymentEvent(o, models.WebhookRefundProcessed, p, json.RawMessage(`{}`), reconcileNow)
	require.True(t, applied)
	assert.Equal(t, models.RefundStatusCompleted, o.RefundStatus)
	assert.Equal(t, models.PaymentStatusRefunded, o.PaymentStatus)
	assert.True(t, o.RefundedAt.Valid)
	assert.Contains(t, tr.Notify, models.NotifyRefundCompleted)
}

func TestReconcileRefundProcessedBeforeCreated(t *testing.T) {
	o := newOrder(models.OrderStatusDelivered, models.PaymentStatusCaptured)
	p := paymentPayload("gw_order_1", "gw_pay_1")
	p.GatewayRefundID = "gw_rfnd_1"

	_, applied, note := ReconcilePaymentEvent(o, models.WebhookRefundProcessed, p, json.RawMessage(`{}`), reconcileNow)

	// Out-of-order completion must never invent a refund.
	assert.False(t, applied)
	assert.Equal(t, "stale", note)
	assert.Equal(t, models.RefundStatusNone, o.RefundStatus)
	assert.True(t, o.RefundDetails.Seen(models.WebhookRefundProcessed, "gw_rfnd_1"))
}

func TestReconcileUnknownEventAcked(t *testing.T) {
	o := newOrder(models.OrderStatusConfirmed, models.PaymentStatusCaptured)

	_, applied, note := ReconcilePaymentEvent(o,
		"payment.downtime.started",
		paymentPayload("gw_order_1", "gw_pay_1"),
		json.RawMessage(`{}`), reconcileNow)

	assert.False(t, applied)
	assert.Equal(t, "unknown_event", note)
	assert.Empty(t, o.PaymentDetails)
}

func newShipment() *models.Shipment {
	return &models.Shipment{ID: 1, OrderID: 42, AWBCode: "AWB123", Status: models.CarrierStatusPickedUp}
}

func carrierPayload(status, deliveredDate string) *models.CarrierWebhookPayload {
	return &models.CarrierWebhookPayload{
		AWBCode:       "AWB123",
		CurrentStatus: status,
		DeliveredDate: deliveredDate,
	}
}

func TestReconcileCarrierDelivered(t *testing.T) {
	o := newOrder(models.OrderStatusShipped, models.PaymentStatusCaptured)
	sh := newShipment()

	tr, applied, note := ReconcileCarrierEvent(o, sh,
		carrierPayload(models.CarrierStatusDelivered, "2026-06-15"),
		json.RawMessage(`{}`), reconcileNow)

	require.True(t, applied)
	assert.Empty(t, note)
	assert.Equal(t, models.CarrierStatusDelivered, sh.Status)
	assert.True(t, sh.DeliveredDate.Valid)
	assert.Equal(t, models.OrderStatusDelivered, o.Status)
	assert.True(t, o.DeliveredAt.Valid)
	assert.Contains(t, tr.Notify, models.NotifyOrderDelivered)
}

func TestReconcileCarrierDuplicateStatus(t *testing.T) {
	o := newOrder(models.OrderStatusShipped, models.PaymentStatusCaptured)
	sh := newShipment()
	p := carrierPayload(models.CarrierStatusDelivered, "2026-06-15")

	_, applied, _ := ReconcileCarrierEvent(o, sh, p, json.RawMessage(`{}`), reconcileNow)
	require.True(t, applied)

	_, applied, note := ReconcileCarrierEvent(o, sh, p, json.RawMessage(`{}`), reconcileNow)
	assert.False(t, applied)
	assert.Equal(t, "duplicate", note)
	assert.Len(t, sh.ShipmentDetails, 1)
}

func TestReconcileCarrierTransitStaysOnShipment(t *testing.T) {
	o := newOrder(models.OrderStatusShipped, models.PaymentStatusCaptured)
	sh := newShipment()

	_, applied, note := ReconcileCarrierEvent(o, sh,
		carrierPayload(models.CarrierStatusInTransit, ""),
		json.RawMessage(`{}`), reconcileNow)

	assert.False(t, applied)
	assert.Equal(t, "stale", note)
	assert.Equal(t, models.CarrierStatusInTransit, sh.Status)
	assert.Equal(t, models.OrderStatusShipped, o.Status)
}

func TestReconcileCarrierRTOCancelsOrder(t *testing.T) {
	o := newOrder(models.OrderStatusShipped, models.PaymentStatusCaptured)
	sh := newShipment()

	tr, applied, _ := ReconcileCarrierEvent(o, sh,
		carrierPayload(models.CarrierStatusRTOInitiated, ""),
		json.RawMessage(`{}`), reconcileNow)

	require.True(t, applied)
	assert.Equal(t, models.OrderStatusCancelled, o.Status)
	assert.Contains(t, tr.Notify, models.NotifyOrderCancelled)
}

func TestEventLogAppendDedup(t *testing.T) {
	var log models.EventLog

	assert.True(t, log.Append("payment.captured", "gw_pay_1", nil, reconcileNow))
	assert.False(t, log.Append("payment.captured", "gw_pay_1", nil, reconcileNow))
	assert.True(t, log.Append("payment.authorized", "gw_pay_1", nil, reconcileNow))
	assert.Len(t, log, 2)
}
