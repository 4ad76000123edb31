// Package portfolio derives portfolio state from the position ledger,
// applies fills to the ledger and writes daily snapshots.
package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/risk"
)

// ValuePlaces is the precision of cost bases and market values.
const ValuePlaces = 4

var hundred = decimal.NewFromInt(100)

// StateSource reads open positions and latest prices.
type StateSource interface {
	OpenPositions(ctx context.Context) ([]journal.Position, error)
	LatestClose(ctx context.Context, instrumentID int64) (decimal.Decimal, bool, error)
}

// BuildState values the open ledger positions. Cash is the initial capital
// less the cost basis of open positions; each position is marked at its
// latest close, or its average price when no close is stored.
func BuildState(ctx context.Context, src StateSource, initialCapital decimal.Decimal) (risk.PortfolioState, error) {
	open, err := src.OpenPositions(ctx)
	if err != nil {
		return risk.PortfolioState{}, fmt.Errorf("portfolio state: %w", err)
	}

	cash := initialCapital
	invested := decimal.Zero
	positions := make(map[int64]risk.Position, len(open))
	for _, p := range open {
		price, ok, err := src.LatestClose(ctx, p.InstrumentID)
		if err != nil {
			return risk.PortfolioState{}, fmt.Errorf("portfolio state: %w", err)
		}
		if !ok {
			price = p.AvgPrice
		}
		mv := p.Quantity.Mul(price).Round(ValuePlaces)
		cash = cash.Sub(CostBasis(p))
		invested = invested.Add(mv)
		positions[p.InstrumentID] = risk.Position{
			InstrumentID: p.InstrumentID,
			Ticker:       p.Ticker,
			Quantity:     p.Quantity,
			AvgPrice:     p.AvgPrice,
			CurrentPrice: price,
			MarketValue:  mv,
		}
	}

	total := cash.Add(invested)
	for id, p := range positions {
		p.WeightPct = WeightPct(p.MarketValue, total, 2)
		positions[id] = p
	}
	return risk.PortfolioState{
		TotalValue:    total,
		Cash:          cash,
		Positions:     positions,
		OpenPositions: len(open),
	}, nil
}

// CostBasis is quantity times average price at four places.
func CostBasis(p journal.Position) decimal.Decimal {
	return p.Quantity.Mul(p.AvgPrice).Round(ValuePlaces)
}

// WeightPct is value as a percentage of total, rounded to places.
func WeightPct(value, total decimal.Decimal, places int32) float64 {
	if !total.IsPositive() {
		return 0
	}
	return value.Div(total).Mul(hundred).Round(places).InexactFloat64()
}
