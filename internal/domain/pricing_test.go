package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTax_RoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		subtotal int64
		rate     string
		want     int64
	}{
		{10000, "0.10", 1000},
		{5, "0.10", 1},
		{4, "0.10", 0},
		{15, "0.10", 2},
		{999, "0.0825", 82},
		{-15, "0.10", -2},
		{0, "0.10", 0},
	}
	for _, tt := range tests {
		rate, err := decimal.NewFromString(tt.rate)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ComputeTax(tt.subtotal, rate), "subtotal=%d rate=%s", tt.subtotal, tt.rate)
	}
}

func TestPriceOrder_TotalInvariant(t *testing.T) {
	items := []OrderItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: 1000},
		{ProductID: "p2", Quantity: 1, UnitPrice: 505},
	}

	p := PriceOrder(items, decimal.RequireFromString("0.10"), 1500)

	assert.Equal(t, int64(2000), items[0].TotalPrice)
	assert.Equal(t, int64(505), items[1].TotalPrice)
	assert.Equal(t, int64(2505), p.Subtotal)
	assert.Equal(t, int64(251), p.Tax) // 250.5
	assert.Equal(t, int64(1500), p.ShippingCost)
	assert.Equal(t, p.Subtotal+p.Tax+p.ShippingCost, p.Total)

	o := &Order{Items: items}
	p.Apply(o)
	require.NoError(t, o.Validate())
}

func TestPriceOrder_ZeroRate(t *testing.T) {
	items := []OrderItem{{ProductID: "p1", Quantity: 3, UnitPrice: 200}}
	p := PriceOrder(items, decimal.Zero, 0)
	assert.Equal(t, int64(600), p.Total)
	assert.Zero(t, p.Tax)
}
