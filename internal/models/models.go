package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Product represents a product in the catalog. Prices are in paise.
type Product struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Variant represents a product variant carrying its own price and stock.
type Variant struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Cart is a user's mutable pre-order basket. At most one per user,
// created lazily on first access.
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem is a cart line. Stock and price are read live, never snapshotted here.
type CartItem struct {
	ID        int64         `db:"id" json:"id"`
	CartID    int64         `db:"cart_id" json:"cart_id"`
	ProductID int64         `db:"product_id" json:"product_id"`
	VariantID sql.NullInt64 `db:"variant_id" json:"variant_id,omitempty"`
	Quantity  int           `db:"quantity" json:"quantity"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Coupon discount types
const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// Coupon represents a discount code. Value is whole percent for percentage
// coupons and paise for fixed coupons. Codes are stored upper-cased.
type Coupon struct {
	ID             int64         `db:"id" json:"id"`
	Code           string        `db:"code" json:"code"`
	DiscountType   string        `db:"discount_type" json:"discount_type"`
	Value          int64         `db:"value" json:"value"`
	MinOrderAmount sql.NullInt64 `db:"min_order_amount" json:"min_order_amount,omitempty"`
	UsageLimit     sql.NullInt64 `db:"usage_limit" json:"usage_limit,omitempty"`
	UsageCount     int64         `db:"usage_count" json:"usage_count"`
	ValidFrom      time.Time     `db:"valid_from" json:"valid_from"`
	ValidUntil     time.Time     `db:"valid_until" json:"valid_until"`
	Active         bool          `db:"active" json:"active"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// OrderStatus is the order's own lifecycle vocabulary.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus tracks the payment leg independently of OrderStatus.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// RefundStatus tracks gateway-driven refunds as a side attribute of the order.
type RefundStatus string

const (
	RefundStatusNone       RefundStatus = "none"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
)

// Payment methods
const (
	PaymentMethodGateway = "gateway"
	PaymentMethodCOD     = "cod"
)

// Address is a snapshotted shipping or billing address, stored as JSONB.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Value implements driver.Valuer.
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Address) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// Valid reports whether the mandatory address fields are present.
func (a Address) Valid() bool {
	return a.Name != "" && a.Line1 != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}

// GatewayEvent is one applied external event in an order's append-only log.
// Kind plus GatewayID form the idempotency key: a pair seen before is never
// applied twice regardless of payload.
type GatewayEvent struct {
	Kind       string          `json:"kind"`
	GatewayID  string          `json:"gateway_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventLog is an ordered append-only log of gateway events, stored as JSONB.
type EventLog []GatewayEvent

// Value implements driver.Valuer.
func (l EventLog) Value() (driver.Value, error) {
	if l == nil {
		l = EventLog{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *EventLog) Scan(src interface{}) error {
	if src == nil {
		*l = EventLog{}
		return nil
	}
	return scanJSON(src, l)
}

// Seen reports whether a (kind, gateway id) pair was already applied.
func (l EventLog) Seen(kind, gatewayID string) bool {
	for _, e := range l {
		if e.Kind == kind && e.GatewayID == gatewayID {
			return true
		}
	}
	return false
}

// Append records an event, returning false without modification when the
// (kind, gateway id) pair was already present.
func (l *EventLog) Append(kind, gatewayID string, payload json.RawMessage, at time.Time) bool {
	if l.Seen(kind, gatewayID) {
		return false
	}
	*l = append(*l, GatewayEvent{
		Kind:       kind,
		GatewayID:  gatewayID,
		ReceivedAt: at,
		Payload:    payload,
	})
	return true
}

// Order is immutable after creation except for the lifecycle fields the state
// machine and reconciler own: status, payment/refund tracking, shipment stamps
// and the append-only event logs. Money fields are paise.
type Order struct {
	ID          int64  `db:"id" json:"id"`
	OrderNumber string `db:"order_number" json:"order_number"`
	UserID      int64  `db:"user_id" json:"user_id"`

	Status        OrderStatus   `db:"status" json:"status"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentMethod string        `db:"payment_method" json:"payment_method"`

	Subtotal     int64 `db:"subtotal" json:"subtotal"`
	TaxAmount    int64 `db:"tax_amount" json:"tax_amount"`
	ShippingCost int64 `db:"shipping_cost" json:"shipping_cost"`
	Discount     int64 `db:"discount" json:"discount"`
	TotalAmount  int64 `db:"total_amount" json:"total_amount"`

	CouponID sql.NullInt64 `db:"coupon_id" json:"coupon_id,omitempty"`

	ShippingAddress Address `db:"shipping_address" json:"shipping_address"`
	BillingAddress  Address `db:"billing_address" json:"billing_address"`

	GatewayOrderID   sql.NullString `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayPaymentID sql.NullString `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`

	TrackingNumber sql.NullString `db:"tracking_number" json:"tracking_number,omitempty"`
	ShippedAt      sql.NullTime   `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt    sql.NullTime   `db:"delivered_at" json:"delivered_at,omitempty"`

	RefundStatus RefundStatus `db:"refund_status" json:"refund_status"`
	RefundAmount int64        `db:"refund_amount" json:"refund_amount"`
	RefundedAt   sql.NullTime `db:"refunded_at" json:"refunded_at,omitempty"`

	PaymentDetails EventLog `db:"payment_details" json:"payment_details"`
	RefundDetails  EventLog `db:"refund_details" json:"refund_details"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is a price-frozen snapshot of a cart line at order-creation time.
// It is never recomputed from the live product.
type OrderItem struct {
	ID          int64         `db:"id" json:"id"`
	OrderID     int64         `db:"order_id" json:"order_id"`
	ProductID   int64         `db:"product_id" json:"product_id"`
	VariantID   sql.NullInt64 `db:"variant_id" json:"variant_id,omitempty"`
	ProductName string        `db:"product_name" json:"product_name"`
	UnitPrice   int64         `db:"unit_price" json:"unit_price"`
	Quantity    int           `db:"quantity" json:"quantity"`
	TotalPrice  int64         `db:"total_price" json:"total_price"`
}

// Shipment carrier statuses use the carrier's own vocabulary, not OrderStatus.
const (
	CarrierStatusPickedUp       = "Picked Up"
	CarrierStatusInTransit      = "In Transit"
	CarrierStatusOutForDelivery = "Out For Delivery"
	CarrierStatusDelivered      = "Delivered"
	CarrierStatusRTOInitiated   = "RTO Initiated"
	CarrierStatusRTODelivered   = "RTO Delivered"
	CarrierStatusCanceled       = "Canceled"
)

// Shipment is one-to-one with an order once the carrier assigns an AWB.
// It is mutated only by the webhook reconciler and never deleted.
type Shipment struct {
	ID              int64        `db:"id" json:"id"`
	OrderID         int64        `db:"order_id" json:"order_id"`
	AWBCode         string       `db:"awb_code" json:"awb_code"`
	Status          string       `db:"status" json:"status"`
	ShipmentDetails EventLog     `db:"shipment_details" json:"shipment_details"`
	DeliveredDate   sql.NullTime `db:"delivered_date" json:"delivered_date,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Actor roles
const (
	ActorRoleCustomer = "customer"
	ActorRoleAdmin    = "admin"
	ActorRoleSystem   = "system"
)

// Actor identifies who is performing an order operation. Operations take it
// explicitly; there is no ambient current-user state.
type Actor struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == ActorRoleAdmin }

// IsSystem reports whether the actor is an internal automated process.
func (a Actor) IsSystem() bool { return a.Role == ActorRoleSystem }

// Owns reports whether the actor is the customer owning the given order.
func (a Actor) Owns(o *Order) bool {
	return a.Role == ActorRoleCustomer && a.UserID == o.UserID
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
