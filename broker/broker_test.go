package broker

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   bool
	}{
		{StatusPending, false},
		{StatusFilled, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OrderStatus{Status: tt.status}.Terminal(), tt.status)
	}
}

func TestHoldingUnrealizedPnL(t *testing.T) {
	t.Parallel()

	h := Holding{
		Quantity:     decimal.NewFromInt(10),
		AvgPrice:     decimal.RequireFromString("100.50"),
		CurrentPrice: decimal.RequireFromString("102"),
	}
	assert.True(t, h.UnrealizedPnL().Equal(decimal.RequireFromString("15")))
}
