package service

import (
	"fmt"
	"strings"
	"time"

	"toystore/internal/models"
)

// CouponResult is the outcome of validating a coupon against an order amount.
// Reasons lists every violated rule; an invalid coupon never raises.
type CouponResult struct {
	Valid   bool
	Reasons []string
}

// CouponEvaluator validates coupons and computes discounts. It is stateless
// and has no side effects; the usage-count increment happens only inside the
// order-creation transaction, never at validation time.
type CouponEvaluator struct {
	now func() time.Time
}

// NewCouponEvaluator creates an evaluator using the wall clock.
func NewCouponEvaluator() *CouponEvaluator {
	return &CouponEvaluator{now: time.Now}
}

// NewCouponEvaluatorAt creates an evaluator with an injected clock, for tests.
func NewCouponEvaluatorAt(now func() time.Time) *CouponEvaluator {
	return &CouponEvaluator{now: now}
}

// NormalizeCode upper-cases and trims a user-entered coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks every coupon rule against the candidate order amount (paise)
// and reports all violations at once.
func (e *CouponEvaluator) Validate(coupon *models.Coupon, orderAmount int64) CouponResult {
	var reasons []string
	now := e.now()

	if !coupon.Active {
		reasons = append(reasons, "coupon is not active")
	}
	if now.Before(coupon.ValidFrom) {
		reasons = append(reasons, "coupon is not yet valid")
	}
	if now.After(coupon.ValidUntil) {
		reasons = append(reasons, "coupon has expired")
	}
	if coupon.UsageLimit.Valid && coupon.UsageCount >= coupon.UsageLimit.Int64 {
		reasons = append(reasons, "coupon usage limit reached")
	}
	if coupon.MinOrderAmount.Valid && orderAmount < coupon.MinOrderAmount.Int64 {
		reasons = append(reasons, fmt.Sprintf("order amount below minimum of %d", coupon.MinOrderAmount.Int64))
	}

	return CouponResult{Valid: len(reasons) == 0, Reasons: reasons}
}

// CalculateDiscount computes the discount in paise. Percentage discounts are
// orderAmount*value/100 rounded half-up to whole paise; fixed discounts are
// capped at the order amount so a discount never exceeds the subtotal.
func (e *CouponEvaluator) CalculateDiscount(coupon *models.Coupon, orderAmount int64) int64 {
	if orderAmount <= 0 {
		return 0
	}

	var discount int64
	switch coupon.DiscountType {
	case models.DiscountTypePercentage:
		discount = roundHalfUpPercent(orderAmount, coupon.Value)
	case models.DiscountTypeFixed:
		discount = coupon.Value
	default:
		return 0
	}

	if discount > orderAmount {
		discount = orderAmount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// roundHalfUpPercent returns amount*percent/100 rounded half-up.
// Amounts are whole paise, so this is two-decimal rupee rounding.
func roundHalfUpPercent(amount, percent int64) int64 {
	return (amount*percent + 50) / 100
}
