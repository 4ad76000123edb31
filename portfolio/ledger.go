package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/risk"
)

// ErrNoPosition is returned when a sell fill has no open position to reduce.
var ErrNoPosition = errors.New("no open position")

// AvgPricePlaces is the precision of averaged entry prices.
const AvgPricePlaces = 4

// LedgerStore is the position ledger.
type LedgerStore interface {
	OpenPositionByInstrument(ctx context.Context, instrumentID int64) (journal.Position, error)
	CreatePosition(ctx context.Context, p *journal.Position) error
	UpdatePosition(ctx context.Context, id int64, qty, avgPrice decimal.Decimal) error
	ClosePosition(ctx context.Context, id int64, at time.Time) error
}

// Fill is an executed order.
type Fill struct {
	InstrumentID int64
	Side         string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Currency     string
	At           time.Time
}

// ApplyFill updates the ledger and returns the affected position ID. Buys
// open a position or average into the existing one; sells reduce it and
// close it when nothing remains.
func ApplyFill(ctx context.Context, st LedgerStore, f Fill) (int64, error) {
	if !f.Quantity.IsPositive() {
		return 0, fmt.Errorf("apply fill: quantity must be positive, got %s", f.Quantity)
	}

	pos, err := st.OpenPositionByInstrument(ctx, f.InstrumentID)
	found := err == nil
	if err != nil && !errors.Is(err, journal.ErrNotFound) {
		return 0, fmt.Errorf("apply fill: %w", err)
	}

	switch f.Side {
	case risk.Buy:
		if !found {
			p := &journal.Position{
				InstrumentID: f.InstrumentID,
				Quantity:     f.Quantity,
				AvgPrice:     f.Price,
				Currency:     f.Currency,
				OpenedAt:     f.At,
			}
			if err := st.CreatePosition(ctx, p); err != nil {
				return 0, fmt.Errorf("apply fill: %w", err)
			}
			return p.ID, nil
		}
		qty, avg := AverageUp(pos.Quantity, pos.AvgPrice, f.Quantity, f.Price)
		if err := st.UpdatePosition(ctx, pos.ID, qty, avg); err != nil {
			return 0, fmt.Errorf("apply fill: %w", err)
		}
		return pos.ID, nil

	case risk.Sell:
		if !found {
			return 0, fmt.Errorf("apply fill: instrument %d: %w", f.InstrumentID, ErrNoPosition)
		}
		remaining := pos.Quantity.Sub(f.Quantity)
		if remaining.Sign() <= 0 {
			err = st.ClosePosition(ctx, pos.ID, f.At)
		} else {
			err = st.UpdatePosition(ctx, pos.ID, remaining, pos.AvgPrice)
		}
		if err != nil {
			return 0, fmt.Errorf("apply fill: %w", err)
		}
		return pos.ID, nil
	}
	return 0, fmt.Errorf("apply fill: unsupported side %q", f.Side)
}

// AverageUp adds qty at price to a holding and returns the new quantity and
// average price.
func AverageUp(heldQty, heldAvg, qty, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	total := heldQty.Add(qty)
	if !total.IsPositive() {
		return total, price
	}
	cost := heldQty.Mul(heldAvg).Add(qty.Mul(price))
	return total, cost.Div(total).Round(AvgPricePlaces)
}
