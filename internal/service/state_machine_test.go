package service

import (
	"testing"
	"time"

	"toystore/internal/apperr"
	"toystore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(status models.OrderStatus, payment models.PaymentStatus) *models.Order {
	return &models.Order{
		ID:            42,
		OrderNumber:   "TS-20260615-ABCDEF12",
		UserID:        7,
		Status:        status,
		PaymentStatus: payment,
		RefundStatus:  models.RefundStatusNone,
	}
}

func customer(userID int64) models.Actor {
	return models.Actor{UserID: userID, Role: models.ActorRoleCustomer}
}

func admin() models.Actor {
	return models.Actor{UserID: 1, Role: models.ActorRoleAdmin}
}

func TestConfirmFromPending(t *testing.T) {
	o := newOrder(models.OrderStatusPending, models.PaymentStatusPending)

	tr, err := Confirm(o)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusConfirmed, tr.Status)
	assert.Contains(t, tr.Notify, models.NotifyOrderConfirmed)
	assert.False(t, tr.Noop)
}

func TestConfirmIdempotent(t *testing.T) {
	o := newOrder(models.OrderStatusConfirmed, models.PaymentStatusCaptured)

	tr, err := Confirm(o)
	require.NoError(t, err)
	assert.True(t, tr.Noop)
}

func TestConfirmFromShippedFails(t *testing.T) {
	o := newOrder(models.OrderStatusShipped, models.PaymentStatusCaptured)

	_, err := Confirm(o)
	assert.True(t, apperr.Is(err, apperr.KindTransition))
}

func TestAdvanceFulfillmentForwardOnly(t *testing.T) {
	o := newOrder(models.OrderStatusShipped, models.PaymentStatusCaptured)

	_, err := AdvanceFulfillment(o, admin(), models.OrderStatusProcessing)
	assert.True(t, apperr.Is(err, apperr.KindTransition))
}

func TestAdvanceFulfillmentRequiresAdmin(t *testing.T) {
	o := newOrder(models.OrderStatusConfirmed, models.PaymentStatusCaptured)

	_, err := AdvanceFulfillment(o, customer(7), models.OrderStatusProcessing)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestAdvanceFulfillmentSameStatusNoop(t *testing.T) {
	o := newOrder(models.OrderStatusProcessing, models.PaymentStatusCaptured)

	tr, err := AdvanceFulfillment(o, admin(), models.OrderStatusProcessing)
	require.NoError(t, err)
	assert.True(t, tr.Noop)
}

func TestAdvanceFulfillmentSkipToDeliveredStampsBoth(t *testing.T) {
	o := newOrder(models.OrderStatusProcessing, models.PaymentStatusCaptured)

	tr, err := AdvanceFulfillment(o, admin(), models.OrderStatusDelivered)
	require.NoError(t, err)

	assert.True(t, tr.StampShipped)
	assert.True(t, tr.StampDelivered)
	assert.Contains(t, tr.Notify, models.NotifyOrderDelivered)
}

func TestAdvanceFulfillmentFromPendingFails(t *testing.T) {
	o := newOrder(models.OrderStatusPending, models.PaymentStatusPending)

	_, err := AdvanceFulfillment(o, admin(), models.OrderStatusProcessing)
	assert.True(t, apperr.Is(err, apperr.KindTransition))
}

func TestCancelPendingByOwner(t *testing.T) {
	o := newOrder(models.OrderStatusPending, models.PaymentStatusPending)

	tr, err := Cancel(o, customer(7))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, tr.Status)
	assert.Contains(t, tr.Notify, models.NotifyOrderCancelled)
}

func TestCancelByOtherCustomerFails(t *testing.T) {
	o := newOrder(models.OrderStatusPending, models.PaymentStatusPending)

	_, err := Cancel(o, customer(99))
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestCancelShippedFails(t *testing.T) {
	for _, status := range []models.OrderStatus{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		o := newOrder(status, models.PaymentStatusCaptured)
		_, err := Cancel(o, customer(7))
		assert.True(t, apperr.Is(err, apperr.KindTransition), "status %s", status)
	}
}

func TestCancelIdempotent(t *testing.T) {
	o := newOrder(models.OrderStatusCancelled, models.PaymentStatusPending)

	tr, err := Cancel(o, customer(7))
	require.NoError(t, err)
	assert.True(t, tr.Noop)
}

func TestPaymentAuthorizedAfterCaptureIsNoop(t *testing.T) {
	o := newOrder(models.OrderStatusConfirmed, models.PaymentStatusCaptured)

	tr, err := PaymentAuthorized(o)
	require.NoError(t, err)
	assert.True(t, tr.Noop)
}

func TestPaymentSucceededConfirmsPendingOrder(t *testing.T) {
	o := newOrder(models.OrderStatusPending, models.PaymentStatusPending)

	tr, err := PaymentSucceeded(o)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusConfirmed, tr.Status)
	assert.Equal(t, models.PaymentStatusCaptured, tr.PaymentStatus)
	assert.Contains(t, tr.Notify, models.NotifyOrderConfirmed)
}

func TestPaymentSucceededIdempotent(t *testing.T) {
	o := newOrder(models.OrderStatusConfirmed, models.PaymentStatusCaptured)

	tr, err := PaymentSucceeded(o)
	require.NoError(t, err)
	assert.True(t, tr.Noop)
}

func TestPaymentSucceededForCancelledOrderFails(t *testing.T) {
	o := newOrder(models.OrderStatusCancelled, models.PaymentStatusPending)

	_, err := PaymentSucceeded(o)
	assert.True(t, apperr.Is(err, apperr.KindTransition))
}

func TestPaymentFailedNeverRegressesCapture(t *testing.T) {
	o := newOrder(models.OrderStatusConfirmed, models.PaymentStatusCaptured)

	tr, err := PaymentFailed(o)
	require.NoError(t, err)
	assert.True(t, tr.Noop)
}

func TestRefundInitiatedRequiresClosedOrder(t *testing.T) {
	o := newOrder(models.OrderStatusShipped, models.PaymentStatusCaptured)

	_, err := RefundInitiated(o, 50000)
	assert.True(t, apperr.Is(err, apperr.KindTransition))
}

func TestRefundInitiatedFromDelivered(t *testing.T) {
	o := newOrder(models.OrderStatusDelivered, models.PaymentStatusCaptured)

	tr, err := RefundInitiated(o, 50000)
	require.NoError(t, err)

	assert.Equal(t, models.RefundStatusProcessing, tr.RefundStatus)
	assert.Equal(t, int64(50000), tr.RefundAmount)
	assert.Contains(t, tr.Notify, models.NotifyRefundStarted)
}

func TestRefundCompletedWithoutInitiationFails(t *testing.T) {
	o := newOrder(models.OrderStatusDelivered, models.PaymentStatusCaptured)

	_, err := RefundCompleted(o)
	assert.True(t, apperr.Is(err, apperr.KindTransition))
}

func TestRefundCompletedFromProcessing(t *testing.T) {
	o := newOrder(models.OrderStatusDelivered, models.PaymentStatusCaptured)
	o.RefundStatus = models.RefundStatusProcessing
	o.RefundAmount = 50000

	tr, err := RefundCompleted(o)
	require.NoError(t, err)

	assert.Equal(t, models.RefundStatusCompleted, tr.RefundStatus)
	assert.Equal(t, models.PaymentStatusRefunded, tr.PaymentStatus)
	assert.True(t, tr.StampRefunded)
}

func TestApplyTransitionStampsOnce(t *testing.T) {
	o := newOrder(models.OrderStatusProcessing, models.PaymentStatusCaptured)
	first := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	tr, err := AdvanceFulfillment(o, admin(), models.OrderStatusShipped)
	require.NoError(t, err)
	ApplyTransition(o, tr, first)
	require.True(t, o.ShippedAt.Valid)

	tr, err = AdvanceFulfillment(o, admin(), models.OrderStatusDelivered)
	require.NoError(t, err)
	ApplyTransition(o, tr, second)

	assert.Equal(t, first, o.ShippedAt.Time)
	assert.Equal(t, second, o.DeliveredAt.Time)
}

func TestApplyTransitionNoopLeavesOrderUntouched(t *testing.T) {
	o := newOrder(models.OrderStatusConfirmed, models.PaymentStatusCaptured)

	tr, err := Confirm(o)
	require.NoError(t, err)
	ApplyTransition(o, tr, time.Now())

	assert.Equal(t, models.OrderStatusConfirmed, o.Status)
	assert.False(t, o.ShippedAt.Valid)
}

func TestIsTerminal(t *testing.T) {
	delivered := newOrder(models.OrderStatusDelivered, models.PaymentStatusCaptured)
	assert.True(t, IsTerminal(delivered))

	delivered.RefundStatus = models.RefundStatusProcessing
	assert.False(t, IsTerminal(delivered))

	delivered.RefundStatus = models.RefundStatusCompleted
	assert.True(t, IsTerminal(delivered))

	assert.False(t, IsTerminal(newOrder(models.OrderStatusShipped, models.PaymentStatusCaptured)))
}
