package fulfillment

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// MarginBreakdown exposes every component of the contribution margin so
// consumers can tell which costs were missing (counted as zero).
type MarginBreakdown struct {
	Gross            decimal.Decimal
	ShippingReceived decimal.Decimal
	MarketplaceFee   decimal.Decimal
	Taxes            decimal.Decimal
	ProductCost      decimal.Decimal
	OtherCosts       decimal.Decimal
	Coupon           decimal.Decimal
	ShippingCost     decimal.Decimal
	// Contribution is the absolute margin
	Contribution decimal.Decimal
	// Percent is the contribution over the gross base, times 100. Not clamped.
	Percent decimal.Decimal
	// Negative is true when the order loses money
	Negative bool
}

// CalculateMargin computes the contribution margin of an order:
//
//	gross - (fee + taxes + productCost + otherCosts + coupon + shippingCost) + shippingReceived
//
// divided by the gross items value (the order total when gross is zero) times 100.
// Cancelled orders report every component as zero and a margin of exactly 0%.
func CalculateMargin(o *Order) MarginBreakdown {
	if Classify(o) == BucketCancelled {
		return MarginBreakdown{
			Gross: decimal.Zero, ShippingReceived: decimal.Zero, MarketplaceFee: decimal.Zero,
			Taxes: decimal.Zero, ProductCost: decimal.Zero, OtherCosts: decimal.Zero,
			Coupon: decimal.Zero, ShippingCost: decimal.Zero,
			Contribution: decimal.Zero, Percent: decimal.Zero,
		}
	}

	f := o.Financial
	costs := f.MarketplaceFee.
		Add(f.Taxes).
		Add(f.ProductCost).
		Add(f.OtherCosts).
		Add(f.Coupon).
		Add(f.ShippingCost)
	contribution := f.GrossItemsValue.Sub(costs).Add(f.ShippingReceived)

	base := f.GrossItemsValue
	if base.IsZero() {
		base = f.OrderTotal
	}
	percent := decimal.Zero
	if !base.IsZero() {
		percent = contribution.Div(base).Mul(hundred).Round(2)
	}

	return MarginBreakdown{
		Gross:            f.GrossItemsValue,
		ShippingReceived: f.ShippingReceived,
		MarketplaceFee:   f.MarketplaceFee,
		Taxes:            f.Taxes,
		ProductCost:      f.ProductCost,
		OtherCosts:       f.OtherCosts,
		Coupon:           f.Coupon,
		ShippingCost:     f.ShippingCost,
		Contribution:     contribution,
		Percent:          percent,
		Negative:         contribution.IsNegative(),
	}
}
