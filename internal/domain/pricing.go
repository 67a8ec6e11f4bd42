package domain

import "github.com/shopspring/decimal"

// Pricing holds the monetary breakdown of an order in minor units.
type Pricing struct {
	Subtotal     int64
	Tax          int64
	ShippingCost int64
	Total        int64
}

// ComputeTax returns subtotal x rate rounded half away from zero.
func ComputeTax(subtotal int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(subtotal).Mul(rate).Round(0).IntPart()
}

// PriceOrder fills each item's TotalPrice and returns the order pricing.
func PriceOrder(items []OrderItem, taxRate decimal.Decimal, shippingFee int64) Pricing {
	var subtotal int64
	for i := range items {
		items[i].TotalPrice = items[i].LineTotal()
		subtotal += items[i].TotalPrice
	}
	tax := ComputeTax(subtotal, taxRate)
	return Pricing{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shippingFee,
		Total:        subtotal + tax + shippingFee,
	}
}

// Apply copies the pricing onto o.
func (p Pricing) Apply(o *Order) {
	o.Subtotal = p.Subtotal
	o.Tax = p.Tax
	o.ShippingCost = p.ShippingCost
	o.Total = p.Total
}
