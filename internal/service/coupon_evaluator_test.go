package service

import (
	"database/sql"
	"testing"
	"time"

	"toystore/internal/models"

	"github.com/stretchr/testify/assert"
)

func fixedClock() time.Time {
	return time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
}

func validCoupon() *models.Coupon {
	return &models.Coupon{
		ID:           1,
		Code:         "SAVE10",
		DiscountType: models.DiscountTypePercentage,
		Value:        10,
		ValidFrom:    fixedClock().Add(-24 * time.Hour),
		ValidUntil:   fixedClock().Add(24 * time.Hour),
		Active:       true,
	}
}

func TestValidateAcceptsActiveCoupon(t *testing.T) {
	e := NewCouponEvaluatorAt(fixedClock)

	result := e.Validate(validCoupon(), 100000)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Reasons)
}

func TestValidateListsEveryViolation(t *testing.T) {
	e := NewCouponEvaluatorAt(fixedClock)

	coupon := validCoupon()
	coupon.Active = false
	coupon.ValidUntil = fixedClock().Add(-time.Hour)
	coupon.UsageLimit = sql.NullInt64{Int64: 5, Valid: true}
	coupon.UsageCount = 5
	coupon.MinOrderAmount = sql.NullInt64{Int64: 50000, Valid: true}

	result := e.Validate(coupon, 40000)

	assert.False(t, result.Valid)
	assert.Len(t, result.Reasons, 4)
}

func TestValidateMinOrderAmount(t *testing.T) {
	e := NewCouponEvaluatorAt(fixedClock)

	coupon := validCoupon()
	coupon.MinOrderAmount = sql.NullInt64{Int64: 50000, Valid: true}

	assert.False(t, e.Validate(coupon, 49999).Valid)
	assert.True(t, e.Validate(coupon, 50000).Valid)
}

func TestValidateNotYetValid(t *testing.T) {
	e := NewCouponEvaluatorAt(fixedClock)

	coupon := validCoupon()
	coupon.ValidFrom = fixedClock().Add(time.Hour)

	result := e.Validate(coupon, 100000)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reasons, "coupon is not yet valid")
}

func TestCalculateDiscountPercentage(t *testing.T) {
	e := NewCouponEvaluatorAt(fixedClock)

	coupon := validCoupon()

	// 10% of Rs 1000.00
	assert.Equal(t, int64(10000), e.CalculateDiscount(coupon, 100000))
}

func TestCalculateDiscountRoundsHalfUp(t *testing.T) {
	e := NewCouponEvaluatorAt(fixedClock)

	coupon := validCoupon()
	coupon.Value = 3

	// 3% of 105 paise = 3.15 -> 3; 3% of 150 paise = 4.5 -> 5
	assert.Equal(t, int64(3), e.CalculateDiscount(coupon, 105))
	assert.Equal(t, int64(5), e.CalculateDiscount(coupon, 150))
}

func TestCalculateDiscountFixedCappedAtOrderAmount(t *testing.T) {
	e := NewCouponEvaluatorAt(fixedClock)

	coupon := validCoupon()
	coupon.DiscountType = models.DiscountTypeFixed
	coupon.Value = 20000

	assert.Equal(t, int64(20000), e.CalculateDiscount(coupon, 100000))
	assert.Equal(t, int64(15000), e.CalculateDiscount(coupon, 15000))
}

func TestCalculateDiscountNeverExceedsOrderAmount(t *testing.T) {
	e := NewCouponEvaluatorAt(fixedClock)

	coupon := validCoupon()
	coupon.Value = 150 // malformed 150% coupon still caps

	assert.Equal(t, int64(100000), e.CalculateDiscount(coupon, 100000))
	assert.Equal(t, int64(0), e.CalculateDiscount(coupon, 0))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save10 "))
	assert.Equal(t, "SAVE10", NormalizeCode("Save10"))
}
