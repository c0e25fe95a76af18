package fulfillment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeShippingType(t *testing.T) {
	tests := []struct {
		raw  string
		want ShippingType
	}{
		{"fulfillment", ShippingFull},
		{"fbm", ShippingFull},
		{"self_service", ShippingFlex},
		{"me2", ShippingEnvios},
		{"cross_docking", ShippingEnvios},
		{"custom", ShippingEnvios},
		{"drop_off", ShippingCorreios},
		{"FULFILLMENT", ShippingFull},
		{"envios", ShippingEnvios},
		{"", ShippingOther},
		{"xd_drop_off", ShippingOther},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeShippingType(tt.raw))
		})
	}
}

func TestShippingPriority_Rank(t *testing.T) {
	p := NewShippingPriority([]ShippingType{ShippingFlex, ShippingFull})
	assert.Equal(t, 0, p.Rank(ShippingFlex))
	assert.Equal(t, 1, p.Rank(ShippingFull))
	assert.Equal(t, 2, p.Rank(ShippingCorreios))
}
