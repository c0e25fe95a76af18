package fulfillment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateMargin(t *testing.T) {
	o := &Order{
		StatusInternal: "Impressão",
		Financial: Financial{
			GrossItemsValue:  d("200"),
			ShippingReceived: d("20"),
			MarketplaceFee:   d("30"),
			Taxes:            d("10"),
			ProductCost:      d("80"),
			OtherCosts:       d("5"),
			Coupon:           d("5"),
			ShippingCost:     d("10"),
		},
	}

	m := CalculateMargin(o)
	// 200 - 140 + 20 = 80 -> 40%
	assert.True(t, d("80").Equal(m.Contribution), m.Contribution.String())
	assert.True(t, d("40").Equal(m.Percent), m.Percent.String())
	assert.False(t, m.Negative)
}

func TestCalculateMargin_NegativeIsNotClamped(t *testing.T) {
	o := &Order{
		StatusInternal: "Enviado",
		Financial: Financial{
			GrossItemsValue: d("100"),
			MarketplaceFee:  d("50"),
			ProductCost:     d("90"),
		},
	}
	m := CalculateMargin(o)
	assert.True(t, d("-40").Equal(m.Percent), m.Percent.String())
	assert.True(t, m.Negative)
}

func TestCalculateMargin_FallsBackToOrderTotal(t *testing.T) {
	o := &Order{
		Financial: Financial{
			OrderTotal:     d("50"),
			MarketplaceFee: d("10"),
		},
	}
	// contribution = 0 - 10 = -10 over 50
	m := CalculateMargin(o)
	assert.True(t, d("-20").Equal(m.Percent), m.Percent.String())
}

func TestCalculateMargin_ZeroBase(t *testing.T) {
	m := CalculateMargin(&Order{})
	assert.True(t, m.Percent.IsZero())
	assert.False(t, m.Negative)
}

func TestCalculateMargin_CancelledIsAlwaysZero(t *testing.T) {
	for _, status := range []string{"Cancelado", "Devolução"} {
		t.Run(status, func(t *testing.T) {
			o := &Order{
				StatusInternal: status,
				Financial: Financial{
					GrossItemsValue:  d("300"),
					ShippingReceived: d("15"),
					MarketplaceFee:   d("900"),
					Taxes:            d("12"),
					ProductCost:      d("40"),
				},
			}
			m := CalculateMargin(o)
			assert.True(t, m.Percent.IsZero())
			assert.True(t, m.Contribution.IsZero())
			assert.True(t, m.Gross.IsZero())
			assert.True(t, m.MarketplaceFee.IsZero())
			assert.False(t, m.Negative)
		})
	}
}
