package service

import (
	"testing"

	"toystore/internal/models"

	"github.com/stretchr/testify/assert"
)

func orderLines(totals ...int64) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(totals))
	for _, total := range totals {
		items = append(items, models.OrderItem{TotalPrice: total})
	}
	return items
}

func TestComputeTotals(t *testing.T) {
	// Rs 1000.00 subtotal, 10% tax, Rs 50.00 shipping, Rs 100.00 discount.
	got := ComputeTotals(orderLines(60000, 40000), 10, 5000, 10000)

	assert.Equal(t, int64(100000), got.Subtotal)
	assert.Equal(t, int64(10000), got.TaxAmount)
	assert.Equal(t, int64(5000), got.ShippingCost)
	assert.Equal(t, int64(10000), got.Discount)
	assert.Equal(t, int64(105000), got.Total)
}

func TestComputeTotalsTaxOnPreDiscountSubtotal(t *testing.T) {
	// Tax is charged on the full subtotal even when a discount applies: the
	// discount comes off after tax, not before.
	discounted := ComputeTotals(orderLines(100000), 10, 0, 50000)
	undiscounted := ComputeTotals(orderLines(100000), 10, 0, 0)

	assert.Equal(t, undiscounted.TaxAmount, discounted.TaxAmount)
	assert.Equal(t, int64(60000), discounted.Total)
}

func TestComputeTotalsRoundsTaxHalfUp(t *testing.T) {
	// 10% of 105 paise = 10.5 -> 11.
	got := ComputeTotals(orderLines(105), 10, 0, 0)
	assert.Equal(t, int64(11), got.TaxAmount)
}

func TestComputeTotalsNeverNegative(t *testing.T) {
	got := ComputeTotals(orderLines(1000), 10, 0, 500000)
	assert.Equal(t, int64(0), got.Total)
}

func TestComputeTotalsEmptyCart(t *testing.T) {
	got := ComputeTotals(nil, 10, 5000, 0)

	assert.Equal(t, int64(0), got.Subtotal)
	assert.Equal(t, int64(0), got.TaxAmount)
	assert.Equal(t, int64(5000), got.Total)
}
