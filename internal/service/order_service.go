package service

import (
	"context"
	"encoding/json"
	"time"

	"toystore/internal/apperr"
	"toystore/internal/models"
	"toystore/internal/store"
	"toystore/internal/util"

	"go.uber.org/zap"
)

// OrderService exposes the customer- and admin-facing order operations.
// Every mutation funnels through the store's per-order row lock so direct
// calls and webhook reconciliation never interleave on one order.
type OrderService struct {
	store    *store.Store
	gateway  *PaymentGateway
	notifier Notifier
	currency string
	logger   *zap.Logger
}

// NewOrderService creates an order service.
func NewOrderService(store *store.Store, gateway *PaymentGateway, notifier Notifier, currency string) *OrderService {
	return &OrderService{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		currency: currency,
		logger:   util.GetLogger(),
	}
}

// OrderView is an order joined with its snapshots and shipment.
type OrderView struct {
	Order    models.Order       `json:"order"`
	Items    []models.OrderItem `json:"items"`
	Shipment *models.Shipment   `json:"shipment,omitempty"`
}

// GetOrder returns an order visible to the actor: its owner or an admin.
func (s *OrderService) GetOrder(ctx context.Context, actor models.Actor, orderID int64) (*OrderView, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(order) && !actor.IsAdmin() {
		return nil, apperr.Authorization("order %s does not belong to this user", order.OrderNumber)
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	shipment, err := s.store.GetShipmentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &OrderView{Order: *order, Items: items, Shipment: shipment}, nil
}

// ListOrders returns the actor's own orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, actor.UserID)
}

// InitiatePayment creates the remote gateway order for a pending
// gateway-paid order and records the gateway order id. The gateway call runs
// before any lock is taken; a timeout leaves the order pending and retryable.
func (s *OrderService) InitiatePayment(ctx context.Context, actor models.Actor, orderID int64) (*RemoteOrder, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.InitiatePayment")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(order) {
		return nil, apperr.Authorization("order %s does not belong to this user", order.OrderNumber)
	}
	if order.PaymentMethod != models.PaymentMethodGateway {
		return nil, apperr.Validation("order %s is not paid through the gateway", order.OrderNumber)
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperr.Transition("order %s is no longer awaiting payment", order.OrderNumber)
	}
	if order.GatewayOrderID.Valid {
		return &RemoteOrder{
			GatewayOrderID: order.GatewayOrderID.String,
			Amount:         order.TotalAmount,
			Currency:       s.currency,
		}, nil
	}

	remote, err := s.gateway.CreateRemoteOrder(ctx, order, s.currency)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetGatewayOrderID(ctx, order.ID, remote.GatewayOrderID); err != nil {
		return nil, err
	}
	return remote, nil
}

// VerifyPaymentInput is the client-submitted payment confirmation triple.
type VerifyPaymentInput struct {
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// VerifyPayment checks the gateway-issued signature and, when valid, marks
// the payment captured and confirms the order. The captured webhook may land
// first or concurrently; whichever applies second observes the recorded
// capture and no-ops.
func (s *OrderService) VerifyPayment(ctx context.Context, actor models.Actor, orderID int64, in VerifyPaymentInput) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.VerifyPayment")
	defer span.End()

	// Signature math happens before the row lock; it needs nothing mutable.
	if !s.gateway.VerifySignature(in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
		util.PaymentVerificationsTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.Signature("payment signature verification failed")
	}

	var transition Transition
	order, err := s.store.UpdateOrderTx(ctx, orderID, func(o *models.Order) error {
		if !actor.Owns(o) {
			return apperr.Authorization("order %s does not belong to this user", o.OrderNumber)
		}
		if !o.GatewayOrderID.Valid || o.GatewayOrderID.String != in.GatewayOrderID {
			return apperr.Validation("gateway order id does not match order %s", o.OrderNumber)
		}

		payload, _ := json.Marshal(in)
		if !o.PaymentDetails.Append(models.WebhookPaymentCaptured, in.GatewayPaymentID, payload, time.Now()) {
			transition = Transition{Noop: true}
			return nil
		}

		t, err := PaymentSucceeded(o)
		if err != nil {
			return err
		}
		o.GatewayPaymentID.String = in.GatewayPaymentID
		o.GatewayPaymentID.Valid = true
		ApplyTransition(o, t, time.Now())
		transition = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.PaymentVerificationsTotal.WithLabelValues("verified").Inc()
	if !transition.Noop {
		util.OrdersConfirmedTotal.Inc()
		s.logger.Info("Payment verified",
			zap.Int64("order_id", order.ID),
			zap.String("gateway_payment_id", in.GatewayPaymentID))
	}
	for _, event := range transition.Notify {
		s.notifier.Notify(ctx, event, order)
	}
	return order, nil
}

// Cancel cancels a pending or confirmed order on behalf of its owner, an
// admin or an automated shipment-cancellation event.
func (s *OrderService) Cancel(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	var transition Transition
	order, err := s.store.UpdateOrderTx(ctx, orderID, func(o *models.Order) error {
		t, err := Cancel(o, actor)
		if err != nil {
			return err
		}
		ApplyTransition(o, t, time.Now())
		transition = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !transition.Noop {
		util.OrdersCancelledTotal.Inc()
		s.logger.Info("Order cancelled",
			zap.Int64("order_id", order.ID),
			zap.String("role", actor.Role))
	}
	for _, event := range transition.Notify {
		s.notifier.Notify(ctx, event, order)
	}
	return order, nil
}

// UpdateFulfillment advances an order along the fulfillment chain.
// Admin only, forward only; re-issuing the current status is a no-op.
func (s *OrderService) UpdateFulfillment(ctx context.Context, actor models.Actor, orderID int64, target models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateFulfillment")
	defer span.End()

	var transition Transition
	order, err := s.store.UpdateOrderTx(ctx, orderID, func(o *models.Order) error {
		t, err := AdvanceFulfillment(o, actor, target)
		if err != nil {
			return err
		}
		ApplyTransition(o, t, time.Now())
		transition = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, event := range transition.Notify {
		s.notifier.Notify(ctx, event, order)
	}
	return order, nil
}

// AssignShipment records a carrier AWB assignment: the shipment row is
// created and the tracking number lands on the order. Admin or system only.
func (s *OrderService) AssignShipment(ctx context.Context, actor models.Actor, orderID int64, awbCode string) (*models.Shipment, error) {
	if !actor.IsAdmin() && !actor.IsSystem() {
		return nil, apperr.Authorization("only admins can assign shipments")
	}
	if awbCode == "" {
		return nil, apperr.Validation("awb code is required")
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.GetShipmentByOrderID(ctx, orderID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	shipment := &models.Shipment{
		OrderID:         order.ID,
		AWBCode:         awbCode,
		Status:          models.CarrierStatusPickedUp,
		ShipmentDetails: models.EventLog{},
	}
	if err := s.store.CreateShipment(ctx, shipment); err != nil {
		return nil, err
	}

	_, err = s.store.UpdateOrderTx(ctx, orderID, func(o *models.Order) error {
		o.TrackingNumber.String = awbCode
		o.TrackingNumber.Valid = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Shipment assigned",
		zap.Int64("order_id", orderID),
		zap.String("awb", awbCode))
	return shipment, nil
}
