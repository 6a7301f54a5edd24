package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"toystore/internal/apperr"
	"toystore/internal/models"
	"toystore/internal/redisclient"
	"toystore/internal/store"
	"toystore/internal/util"

	"go.uber.org/zap"
)

// Webhook sources, used for metrics and dedup keys.
const (
	SourcePaymentGateway  = "payment_gateway"
	SourceShippingCarrier = "shipping_carrier"
)

// Reconciler applies asynchronous, at-least-once, out-of-order webhook events
// from the payment gateway and the shipping carrier to order state. Events
// are authenticated at the boundary, merged idempotently into the order's
// append-only logs and applied through guarded state-machine transitions, all
// under the per-order row lock. Stale and duplicate events are acknowledged
// no-ops, never errors: the provider must not retry forever on them.
type Reconciler struct {
	store         *store.Store
	redis         *redisclient.Client
	notifier      Notifier
	gatewaySecret string
	carrierSecret string
	logger        *zap.Logger
}

// NewReconciler creates a webhook reconciler.
func NewReconciler(store *store.Store, redis *redisclient.Client, notifier Notifier, gatewaySecret, carrierSecret string) *Reconciler {
	return &Reconciler{
		store:         store,
		redis:         redis,
		notifier:      notifier,
		gatewaySecret: gatewaySecret,
		carrierSecret: carrierSecret,
		logger:        util.GetLogger(),
	}
}

// HandlePaymentWebhook authenticates and applies one payment gateway
// delivery. A nil return means the delivery is acknowledged, including
// benign no-ops; only authentication and parse failures reject.
func (r *Reconciler) HandlePaymentWebhook(ctx context.Context, rawBody []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandlePaymentWebhook")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.WithLabelValues(SourcePaymentGateway).Observe(time.Since(start).Seconds())
	}()

	if !VerifyWebhookSignature(rawBody, signature, r.gatewaySecret) {
		util.WebhooksRejectedTotal.WithLabelValues(SourcePaymentGateway, "bad_signature").Inc()
		r.logger.Warn("Payment webhook signature rejected")
		return apperr.Signature("payment webhook signature verification failed")
	}

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		util.WebhooksRejectedTotal.WithLabelValues(SourcePaymentGateway, "malformed").Inc()
		return apperr.Wrap(apperr.KindValidation, "malformed payment webhook body", err)
	}
	var payload models.PaymentWebhookPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		util.WebhooksRejectedTotal.WithLabelValues(SourcePaymentGateway, "malformed").Inc()
		return apperr.Wrap(apperr.KindValidation, "malformed payment webhook payload", err)
	}

	util.WebhooksReceivedTotal.WithLabelValues(SourcePaymentGateway, envelope.Event).Inc()

	digest := bodyDigest(rawBody)
	if seen, err := r.redis.WebhookSeen(ctx, SourcePaymentGateway, digest); err == nil && seen {
		util.WebhooksDuplicateTotal.WithLabelValues(SourcePaymentGateway).Inc()
		return nil
	}

	orderID, err := r.resolvePaymentTarget(ctx, envelope.Event, &payload)
	if err != nil {
		return err
	}
	if orderID == 0 {
		// Permanently unmatched references are acknowledged so the sender
		// stops retrying.
		r.logger.Warn("Payment webhook target not found",
			zap.String("event", envelope.Event),
			zap.String("gateway_order_id", payload.GatewayOrderID),
			zap.String("gateway_payment_id", payload.GatewayPaymentID))
		return nil
	}

	var transition Transition
	var applied bool
	var note string
	order, err := r.store.UpdateOrderTx(ctx, orderID, func(o *models.Order) error {
		transition, applied, note = ReconcilePaymentEvent(o, envelope.Event, &payload, envelope.Payload, time.Now())
		return nil
	})
	if err != nil {
		return err
	}

	switch note {
	case "duplicate":
		util.WebhooksDuplicateTotal.WithLabelValues(SourcePaymentGateway).Inc()
	case "stale", "unknown_event":
		r.logger.Info("Payment webhook ignored",
			zap.String("event", envelope.Event),
			zap.Int64("order_id", orderID),
			zap.String("reason", note))
	}

	if applied {
		r.recordPaymentMetrics(envelope.Event)
		for _, event := range transition.Notify {
			r.notifier.Notify(ctx, event, order)
		}
	}

	if err := r.redis.MarkWebhookSeen(ctx, SourcePaymentGateway, digest); err != nil {
		r.logger.Warn("Failed to mark webhook seen", zap.Error(err))
	}
	return nil
}

func (r *Reconciler) resolvePaymentTarget(ctx context.Context, event string, p *models.PaymentWebhookPayload) (int64, error) {
	switch event {
	case models.WebhookRefundCreated, models.WebhookRefundProcessed:
		// Refund events carry the payment id of the original capture.
		return r.store.FindOrderIDByGatewayPaymentID(ctx, p.GatewayPaymentID)
	default:
		return r.store.FindOrderIDByGatewayOrderID(ctx, p.GatewayOrderID)
	}
}

func (r *Reconciler) recordPaymentMetrics(event string) {
	switch event {
	case models.WebhookPaymentCaptured:
		util.OrdersConfirmedTotal.Inc()
	case models.WebhookRefundProcessed:
		util.OrdersRefundedTotal.Inc()
	}
}

// ReconcilePaymentEvent merges one payment gateway event into the order and
// applies the guarded transition. The merge is the idempotency record: a
// previously-seen (event, gateway id) pair changes nothing even if the body
// differs. Guard mismatches keep the merge but skip the transition — they are
// stale deliveries, not malformed ones.
//
// It returns the computed transition, whether a transition was applied, and a
// note ("", "duplicate", "stale", "unknown_event") for the caller's logging.
func ReconcilePaymentEvent(o *models.Order, event string, p *models.PaymentWebhookPayload, raw json.RawMessage, now time.Time) (Transition, bool, string) {
	var (
		t   Transition
		err error
	)

	switch event {
	case models.WebhookPaymentAuthorized, models.WebhookPaymentCaptured, models.WebhookPaymentFailed:
		if !o.PaymentDetails.Append(event, p.GatewayPaymentID, raw, now) {
			return Transition{Noop: true}, false, "duplicate"
		}
		switch event {
		case models.WebhookPaymentAuthorized:
			if p.GatewayPaymentID != "" && !o.GatewayPaymentID.Valid {
				o.GatewayPaymentID.String = p.GatewayPaymentID
				o.GatewayPaymentID.Valid = true
			}
			t, err = PaymentAuthorized(o)
		case models.WebhookPaymentCaptured:
			if p.GatewayPaymentID != "" && !o.GatewayPaymentID.Valid {
				o.GatewayPaymentID.String = p.GatewayPaymentID
				o.GatewayPaymentID.Valid = true
			}
			t, err = PaymentSucceeded(o)
		case models.WebhookPaymentFailed:
			t, err = PaymentFailed(o)
		}

	case models.WebhookRefundCreated, models.WebhookRefundProcessed:
		if !o.RefundDetails.Append(event, p.GatewayRefundID, raw, now) {
			return Transition{Noop: true}, false, "duplicate"
		}
		if event == models.WebhookRefundCreated {
			t, err = RefundInitiated(o, p.Amount)
		} else {
			t, err = RefundCompleted(o)
		}

	default:
		// Providers add event types; unknown ones are recorded nowhere and
		// acknowledged.
		return Transition{Noop: true}, false, "unknown_event"
	}

	if err != nil {
		// Incompatible current state: the merge stands as the record of
		// receipt, the transition is deliberately not applied.
		return Transition{Noop: true}, false, "stale"
	}
	if t.Noop {
		return t, false, "stale"
	}

	ApplyTransition(o, t, now)
	return t, true, ""
}

// HandleCarrierWebhook authenticates and applies one shipping carrier status
// delivery, then projects the carrier status onto the order. The projection
// is one-directional: shipment status is carrier-owned, order status belongs
// to the order state machine.
func (r *Reconciler) HandleCarrierWebhook(ctx context.Context, rawBody []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleCarrierWebhook")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.WithLabelValues(SourceShippingCarrier).Observe(time.Since(start).Seconds())
	}()

	if !VerifyWebhookSignature(rawBody, signature, r.carrierSecret) {
		util.WebhooksRejectedTotal.WithLabelValues(SourceShippingCarrier, "bad_signature").Inc()
		r.logger.Warn("Carrier webhook signature rejected")
		return apperr.Signature("carrier webhook signature verification failed")
	}

	var payload models.CarrierWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		util.WebhooksRejectedTotal.WithLabelValues(SourceShippingCarrier, "malformed").Inc()
		return apperr.Wrap(apperr.KindValidation, "malformed carrier webhook body", err)
	}
	if payload.AWBCode == "" || payload.CurrentStatus == "" {
		util.WebhooksRejectedTotal.WithLabelValues(SourceShippingCarrier, "malformed").Inc()
		return apperr.Validation("carrier webhook missing awb or status")
	}

	util.WebhooksReceivedTotal.WithLabelValues(SourceShippingCarrier, payload.CurrentStatus).Inc()

	var transition Transition
	var applied bool
	var note string
	order, err := r.store.UpdateOrderWithShipmentTx(ctx, payload.AWBCode, func(o *models.Order, sh *models.Shipment) error {
		transition, applied, note = ReconcileCarrierEvent(o, sh, &payload, rawBody, time.Now())
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			// Unknown AWB: acknowledged, no state change.
			r.logger.Warn("Carrier webhook for unknown shipment",
				zap.String("awb", payload.AWBCode))
			return nil
		}
		return err
	}

	if note == "duplicate" {
		util.WebhooksDuplicateTotal.WithLabelValues(SourceShippingCarrier).Inc()
	}

	if applied {
		if transition.Status == models.OrderStatusCancelled {
			util.OrdersCancelledTotal.Inc()
		}
		for _, event := range transition.Notify {
			r.notifier.Notify(ctx, event, order)
		}
	}

	return nil
}

// ReconcileCarrierEvent merges one carrier status into the shipment and
// projects it onto the order. Idempotency keys on (awb, carrier status): a
// carrier resending the same status three times fires the shipped email once.
func ReconcileCarrierEvent(o *models.Order, sh *models.Shipment, p *models.CarrierWebhookPayload, raw json.RawMessage, now time.Time) (Transition, bool, string) {
	key := p.AWBCode + "|" + p.CurrentStatus
	if !sh.ShipmentDetails.Append("carrier.status", key, raw, now) {
		return Transition{Noop: true}, false, "duplicate"
	}

	sh.Status = p.CurrentStatus
	if p.DeliveredDate != "" {
		if d, err := time.Parse("2006-01-02", p.DeliveredDate); err == nil && !sh.DeliveredDate.Valid {
			sh.DeliveredDate.Time = d
			sh.DeliveredDate.Valid = true
		}
	}

	t, changed := syncOrderStatus(o, p.CurrentStatus)
	if !changed {
		return t, false, "stale"
	}
	ApplyTransition(o, t, now)
	return t, true, ""
}

// syncOrderStatus maps carrier vocabulary onto the order's own status enum.
// Only delivery and return/cancellation outcomes move the order; transit
// updates stay on the shipment.
func syncOrderStatus(o *models.Order, carrierStatus string) (Transition, bool) {
	switch carrierStatus {
	case models.CarrierStatusDelivered:
		if o.Status == models.OrderStatusDelivered {
			return Transition{Noop: true}, false
		}
		t := from(o)
		t.Status = models.OrderStatusDelivered
		t.StampShipped = true
		t.StampDelivered = true
		t.Notify = append(t.Notify, models.NotifyOrderDelivered)
		return t, true

	case models.CarrierStatusRTOInitiated, models.CarrierStatusRTODelivered, models.CarrierStatusCanceled:
		if o.Status == models.OrderStatusCancelled {
			return Transition{Noop: true}, false
		}
		t := from(o)
		t.Status = models.OrderStatusCancelled
		t.Notify = append(t.Notify, models.NotifyOrderCancelled)
		return t, true

	default:
		return Transition{Noop: true}, false
	}
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
