package service

import (
	"time"

	"toystore/internal/apperr"
	"toystore/internal/models"
)

// Transition is the computed result of applying an event to an order's
// current state. Side effects (timestamp stamping, notifications) are carried
// as data so the caller can persist them atomically with the state change.
// A Noop transition means the event is stale or duplicate and changes nothing.
type Transition struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	RefundStatus  models.RefundStatus
	RefundAmount  int64

	StampShipped   bool
	StampDelivered bool
	StampRefunded  bool

	Notify []string
	Noop   bool
}

func noop(o *models.Order) Transition {
	return Transition{
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		RefundStatus:  o.RefundStatus,
		RefundAmount:  o.RefundAmount,
		Noop:          true,
	}
}

func from(o *models.Order) Transition {
	return Transition{
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		RefundStatus:  o.RefundStatus,
		RefundAmount:  o.RefundAmount,
	}
}

// fulfillmentRank orders the forward-only fulfillment chain.
var fulfillmentRank = map[models.OrderStatus]int{
	models.OrderStatusPending:    0,
	models.OrderStatusConfirmed:  1,
	models.OrderStatusProcessing: 2,
	models.OrderStatusShipped:    3,
	models.OrderStatusDelivered:  4,
}

// Confirm moves pending → confirmed. Re-confirming is a no-op.
func Confirm(o *models.Order) (Transition, error) {
	switch o.Status {
	case models.OrderStatusPending:
		t := from(o)
		t.Status = models.OrderStatusConfirmed
		t.Notify = append(t.Notify, models.NotifyOrderConfirmed)
		return t, nil
	case models.OrderStatusConfirmed:
		return noop(o), nil
	default:
		return Transition{}, apperr.Transition("cannot confirm order in status %q", o.Status)
	}
}

// AdvanceFulfillment moves an order forward along
// confirmed → processing → shipped → delivered. Admin only. Re-issuing the
// current status is a no-op; moving backward or skipping from pending fails.
func AdvanceFulfillment(o *models.Order, actor models.Actor, target models.OrderStatus) (Transition, error) {
	if !actor.IsAdmin() {
		return Transition{}, apperr.Authorization("only admins can update fulfillment status")
	}

	targetRank, ok := fulfillmentRank[target]
	if !ok || target == models.OrderStatusPending {
		return Transition{}, apperr.Transition("invalid fulfillment status %q", target)
	}
	currentRank, ok := fulfillmentRank[o.Status]
	if !ok {
		return Transition{}, apperr.Transition("cannot update %s order", o.Status)
	}

	if target == o.Status {
		return noop(o), nil
	}
	if targetRank < currentRank {
		return Transition{}, apperr.Transition("cannot move order back from %q to %q", o.Status, target)
	}
	if o.Status == models.OrderStatusPending {
		return Transition{}, apperr.Transition("order must be confirmed before fulfillment")
	}

	t := from(o)
	t.Status = target
	switch target {
	case models.OrderStatusProcessing:
		t.Notify = append(t.Notify, models.NotifyOrderProcessing)
	case models.OrderStatusShipped:
		t.StampShipped = true
		t.Notify = append(t.Notify, models.NotifyOrderShipped)
	case models.OrderStatusDelivered:
		t.StampShipped = true // a skipped shipped step still stamps once
		t.StampDelivered = true
		t.Notify = append(t.Notify, models.NotifyOrderDelivered)
	}
	return t, nil
}

// Cancel moves pending|confirmed → cancelled. Permitted for the owning
// customer and for automated shipment-cancellation events; admins may cancel
// on a customer's behalf.
func Cancel(o *models.Order, actor models.Actor) (Transition, error) {
	if !actor.Owns(o) && !actor.IsAdmin() && !actor.IsSystem() {
		return Transition{}, apperr.Authorization("order %s does not belong to this user", o.OrderNumber)
	}

	switch o.Status {
	case models.OrderStatusPending, models.OrderStatusConfirmed:
		t := from(o)
		t.Status = models.OrderStatusCancelled
		t.Notify = append(t.Notify, models.NotifyOrderCancelled)
		return t, nil
	case models.OrderStatusCancelled:
		return noop(o), nil
	default:
		return Transition{}, apperr.Transition("cannot cancel order in status %q", o.Status)
	}
}

// PaymentAuthorized records gateway authorization. Capture dominates
// authorization, so an authorize arriving after capture is a no-op.
func PaymentAuthorized(o *models.Order) (Transition, error) {
	switch o.PaymentStatus {
	case models.PaymentStatusPending, models.PaymentStatusFailed:
		t := from(o)
		t.PaymentStatus = models.PaymentStatusAuthorized
		return t, nil
	default:
		return noop(o), nil
	}
}

// PaymentSucceeded records a captured payment and confirms the order when it
// is still pending. An already-captured payment is a no-op, which makes the
// customer verify call and the captured webhook safely interchangeable.
func PaymentSucceeded(o *models.Order) (Transition, error) {
	if o.PaymentStatus == models.PaymentStatusCaptured || o.PaymentStatus == models.PaymentStatusRefunded {
		return noop(o), nil
	}
	if o.Status == models.OrderStatusCancelled {
		return Transition{}, apperr.Transition("payment captured for cancelled order %s", o.OrderNumber)
	}

	t := from(o)
	t.PaymentStatus = models.PaymentStatusCaptured
	if o.Status == models.OrderStatusPending {
		t.Status = models.OrderStatusConfirmed
		t.Notify = append(t.Notify, models.NotifyOrderConfirmed)
	}
	return t, nil
}

// PaymentFailed records a failed payment attempt. A replayed failure after a
// later capture never regresses the captured state.
func PaymentFailed(o *models.Order) (Transition, error) {
	switch o.PaymentStatus {
	case models.PaymentStatusCaptured, models.PaymentStatusRefunded:
		return noop(o), nil
	default:
		t := from(o)
		t.PaymentStatus = models.PaymentStatusFailed
		t.Notify = append(t.Notify, models.NotifyPaymentFailed)
		return t, nil
	}
}

// RefundInitiated starts refund bookkeeping. Refunds are gateway-initiated
// truth: only delivered or cancelled orders accept them, and a refund already
// underway or completed is a no-op.
func RefundInitiated(o *models.Order, amount int64) (Transition, error) {
	if o.RefundStatus != models.RefundStatusNone {
		return noop(o), nil
	}
	if o.Status != models.OrderStatusDelivered && o.Status != models.OrderStatusCancelled {
		return Transition{}, apperr.Transition("cannot refund order in status %q", o.Status)
	}

	t := from(o)
	t.RefundStatus = models.RefundStatusProcessing
	t.RefundAmount = amount
	t.Notify = append(t.Notify, models.NotifyRefundStarted)
	return t, nil
}

// RefundCompleted finishes a refund. It applies only when a refund is
// processing; a processed event arriving before the created event is stale
// and never completes a refund that was never started.
func RefundCompleted(o *models.Order) (Transition, error) {
	switch o.RefundStatus {
	case models.RefundStatusProcessing:
		t := from(o)
		t.RefundStatus = models.RefundStatusCompleted
		t.PaymentStatus = models.PaymentStatusRefunded
		t.StampRefunded = true
		t.Notify = append(t.Notify, models.NotifyRefundCompleted)
		return t, nil
	case models.RefundStatusCompleted:
		return noop(o), nil
	default:
		return Transition{}, apperr.Transition("no refund in progress for order %s", o.OrderNumber)
	}
}

// ApplyTransition writes a transition onto the order. Timestamps stamp
// exactly once: a stamp requested for an already-set field is skipped.
func ApplyTransition(o *models.Order, t Transition, now time.Time) {
	if t.Noop {
		return
	}

	o.Status = t.Status
	o.PaymentStatus = t.PaymentStatus
	o.RefundStatus = t.RefundStatus
	o.RefundAmount = t.RefundAmount

	if t.StampShipped && !o.ShippedAt.Valid {
		o.ShippedAt.Time = now
		o.ShippedAt.Valid = true
	}
	if t.StampDelivered && !o.DeliveredAt.Valid {
		o.DeliveredAt.Time = now
		o.DeliveredAt.Valid = true
	}
	if t.StampRefunded && !o.RefundedAt.Valid {
		o.RefundedAt.Time = now
		o.RefundedAt.Valid = true
	}
}

// IsTerminal reports whether no further transitions can apply to the order.
func IsTerminal(o *models.Order) bool {
	if o.RefundStatus == models.RefundStatusCompleted {
		return true
	}
	closed := o.Status == models.OrderStatusDelivered || o.Status == models.OrderStatusCancelled
	return closed && o.RefundStatus == models.RefundStatusNone
}
