// Package broker defines the order-execution contract shared by the live
// and simulated brokers.
package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	StatusPending   = "PENDING"
	StatusFilled    = "FILLED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Broker places market orders and reports holdings.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatus, error)
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	Positions(ctx context.Context) ([]Holding, error)
}

// OrderRequest is a market order.
type OrderRequest struct {
	Ticker   string
	Side     string // BUY or SELL
	Quantity decimal.Decimal
}

// OrderStatus is the broker's view of an order. Filled fields are only
// valid once the order has filled.
type OrderStatus struct {
	OrderID        string
	Ticker         string
	Side           string
	Status         string
	FilledQuantity decimal.NullDecimal
	FilledPrice    decimal.NullDecimal
	Message        string
}

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	return s.Status == StatusFilled || s.Status == StatusFailed || s.Status == StatusCancelled
}

// Holding is a position held at the broker.
type Holding struct {
	Ticker       string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
}

// UnrealizedPnL is (current - average) * quantity.
func (h Holding) UnrealizedPnL() decimal.Decimal {
	return h.CurrentPrice.Sub(h.AvgPrice).Mul(h.Quantity)
}
