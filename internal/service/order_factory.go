package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"toystore/config"
	"toystore/internal/apperr"
	"toystore/internal/models"
	"toystore/internal/redisclient"
	"toystore/internal/store"
	"toystore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier fans out a committed order transition to interested listeners.
// Implementations are fire-and-forget; delivery failures must not affect the
// caller.
type Notifier interface {
	Notify(ctx context.Context, event string, order *models.Order)
}

// OrderFactory converts a cart into an immutable order with price-frozen
// item snapshots.
type OrderFactory struct {
	store     *store.Store
	redis     *redisclient.Client
	evaluator *CouponEvaluator
	notifier  Notifier
	business  config.BusinessConfig
	logger    *zap.Logger
}

// NewOrderFactory creates an order factory.
func NewOrderFactory(
	store *store.Store,
	redis *redisclient.Client,
	evaluator *CouponEvaluator,
	notifier Notifier,
	business config.BusinessConfig,
) *OrderFactory {
	return &OrderFactory{
		store:     store,
		redis:     redis,
		evaluator: evaluator,
		notifier:  notifier,
		business:  business,
		logger:    util.GetLogger(),
	}
}

// CheckoutInput is the customer's checkout submission.
type CheckoutInput struct {
	PaymentMethod   string         `json:"payment_method" binding:"required"`
	ShippingAddress models.Address `json:"shipping_address" binding:"required"`
	BillingAddress  models.Address `json:"billing_address" binding:"required"`
	CouponCode      string         `json:"coupon_code,omitempty"`
}

// Totals is the order pricing breakdown in paise. Tax applies to the
// pre-discount subtotal and the discount comes off at the very end; this
// ordering is deliberate and changing it changes the total.
type Totals struct {
	Subtotal     int64
	TaxAmount    int64
	ShippingCost int64
	Discount     int64
	Total        int64
}

// ComputeTotals derives the order totals from the snapshot lines.
func ComputeTotals(items []models.OrderItem, taxPercent, shippingCost, discount int64) Totals {
	t := Totals{ShippingCost: shippingCost, Discount: discount}
	for _, item := range items {
		t.Subtotal += item.TotalPrice
	}
	t.TaxAmount = roundHalfUpPercent(t.Subtotal, taxPercent)
	t.Total = t.Subtotal + t.TaxAmount + t.ShippingCost - t.Discount
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}

// CreateFromCart converts the user's cart into an order. Stock is re-checked
// against current inventory inside the commit transaction, closing the
// cart/order race; the cart is cleared only after the order is durable.
func (f *OrderFactory) CreateFromCart(ctx context.Context, userID int64, in CheckoutInput) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderFactory.CreateFromCart")
	defer span.End()

	if in.PaymentMethod != models.PaymentMethodGateway && in.PaymentMethod != models.PaymentMethodCOD {
		return nil, apperr.Validation("unknown payment method %q", in.PaymentMethod)
	}
	if !in.ShippingAddress.Valid() || !in.BillingAddress.Valid() {
		return nil, apperr.Validation("shipping and billing addresses are required")
	}

	cart, err := f.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	cartItems, err := f.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if len(cartItems) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, apperr.Validation("cart is empty")
	}

	items, err := f.snapshotItems(ctx, cartItems)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.TotalPrice
	}

	coupon, discount, err := f.applyCoupon(ctx, in.CouponCode, subtotal)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_coupon").Inc()
		return nil, err
	}

	totals := ComputeTotals(items, f.business.TaxPercent, f.business.FlatShippingCost, discount)

	orderNumber, err := f.generateOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderNumber:     orderNumber,
		UserID:          userID,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   in.PaymentMethod,
		Subtotal:        totals.Subtotal,
		TaxAmount:       totals.TaxAmount,
		ShippingCost:    totals.ShippingCost,
		Discount:        totals.Discount,
		TotalAmount:     totals.Total,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		RefundStatus:    models.RefundStatusNone,
		PaymentDetails:  models.EventLog{},
		RefundDetails:   models.EventLog{},
	}
	if coupon != nil {
		order.CouponID.Int64 = coupon.ID
		order.CouponID.Valid = true
	}

	if err := f.store.CreateOrderTx(ctx, order, items); err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		}
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	f.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.TotalAmount))

	for _, item := range items {
		if err := f.redis.InvalidateStock(ctx, item.ProductID, item.VariantID.Int64); err != nil {
			f.logger.Warn("Failed to invalidate stock cache", zap.Error(err))
		}
	}

	// The order is durable; cart clearing is best-effort from here.
	if err := f.store.ClearCart(ctx, cart.ID); err != nil {
		f.logger.Error("Failed to clear cart after checkout",
			zap.Int64("cart_id", cart.ID),
			zap.Error(err))
	}

	// Cash on delivery has no payment verification step.
	if in.PaymentMethod == models.PaymentMethodCOD {
		order, err = f.confirmCOD(ctx, order.ID)
		if err != nil {
			return nil, err
		}
	}

	return order, nil
}

func (f *OrderFactory) confirmCOD(ctx context.Context, orderID int64) (*models.Order, error) {
	var transition Transition
	order, err := f.store.UpdateOrderTx(ctx, orderID, func(o *models.Order) error {
		t, err := Confirm(o)
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

	util.OrdersConfirmedTotal.Inc()
	for _, event := range transition.Notify {
		f.notifier.Notify(ctx, event, order)
	}
	return order, nil
}

// snapshotItems freezes each cart line into an order item at the current
// product price, not a price chosen earlier in the session.
func (f *OrderFactory) snapshotItems(ctx context.Context, cartItems []models.CartItem) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(cartItems))
	for _, ci := range cartItems {
		product, err := f.store.GetProductByID(ctx, ci.ProductID)
		if err != nil {
			return nil, err
		}

		name := product.Name
		price := product.Price
		if ci.VariantID.Valid {
			variant, err := f.store.GetVariantByID(ctx, ci.VariantID.Int64)
			if err != nil {
				return nil, err
			}
			if !variant.Active || variant.ProductID != product.ID {
				return nil, apperr.Validation("variant %d is not available", variant.ID)
			}
			name = fmt.Sprintf("%s (%s)", product.Name, variant.Name)
			price = variant.Price
		}

		items = append(items, models.OrderItem{
			ProductID:   ci.ProductID,
			VariantID:   ci.VariantID,
			ProductName: name,
			UnitPrice:   price,
			Quantity:    ci.Quantity,
			TotalPrice:  price * int64(ci.Quantity),
		})
	}
	return items, nil
}

func (f *OrderFactory) applyCoupon(ctx context.Context, code string, subtotal int64) (*models.Coupon, int64, error) {
	if code == "" {
		return nil, 0, nil
	}

	coupon, err := f.store.GetCouponByCode(ctx, NormalizeCode(code))
	if err != nil {
		util.CouponApplicationsTotal.WithLabelValues("not_found").Inc()
		return nil, 0, err
	}

	result := f.evaluator.Validate(coupon, subtotal)
	if !result.Valid {
		util.CouponApplicationsTotal.WithLabelValues("invalid").Inc()
		return nil, 0, apperr.Validation("coupon %s rejected: %s",
			coupon.Code, strings.Join(result.Reasons, "; "))
	}

	util.CouponApplicationsTotal.WithLabelValues("applied").Inc()
	return coupon, f.evaluator.CalculateDiscount(coupon, subtotal), nil
}

// generateOrderNumber builds a human-legible unique order number and
// collision-checks it against existing orders.
func (f *OrderFactory) generateOrderNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
		candidate := fmt.Sprintf("TS-%s-%s", time.Now().Format("20060102"), suffix)

		exists, err := f.store.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique order number")
}
