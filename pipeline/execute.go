package pipeline

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/broker"
	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/portfolio"
	"github.com/rustyeddy/tradeagent/risk"
)

// execute sends each approved trade to the broker, updates the ledger for
// fills and records every trade. A failing trade is recorded as a run
// error and the rest continue.
func (r *run) execute(ctx context.Context, tx *journal.Tx, reports map[int64]int64) error {
	if r.svc.opts.PaperFills {
		if hs, ok := r.svc.deps.Broker.(HoldingsSyncer); ok {
			hs.SetHoldings(r.state.Cash, r.holdings())
		}
		if fp, ok := r.svc.deps.Broker.(FillPricer); ok {
			fp.SetFillPrices(r.latestCloses())
		}
	}

	for _, a := range r.verdict.Approved {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := r.executeOne(ctx, tx, a, reports[a.InstrumentID])
		if err != nil {
			r.fail("execution", fmt.Sprintf("Trade execution failed for %s: %v", a.Ticker, err))
			r.log.Error().Err(err).Str("ticker", a.Ticker).Msg("trade_execution_failed")
			continue
		}
		if ok {
			r.res.TradesExecuted++
		}
	}
	return nil
}

func (r *run) executeOne(ctx context.Context, tx *journal.Tx, a risk.Approved, reportID int64) (bool, error) {
	st, err := r.svc.deps.Broker.PlaceOrder(ctx, broker.OrderRequest{
		Ticker:   a.Ticker,
		Side:     a.Side,
		Quantity: a.Quantity,
	})
	if err != nil {
		return false, err
	}

	filled := st.Status == broker.StatusFilled
	price := a.EstimatedValue.Div(a.Quantity).Round(portfolio.AvgPricePlaces)
	if st.FilledPrice.Valid && st.FilledPrice.Decimal.IsPositive() {
		price = st.FilledPrice.Decimal
	}
	qty := a.Quantity
	total := a.EstimatedValue
	if st.FilledQuantity.Valid && st.FilledQuantity.Decimal.IsPositive() {
		qty = st.FilledQuantity.Decimal
		total = qty.Mul(price).Round(portfolio.ValuePlaces)
	}

	now := r.svc.opts.Now()
	rec := &journal.TradeRecord{
		InstrumentID:  a.InstrumentID,
		Ticker:        a.Ticker,
		Side:          a.Side,
		Quantity:      qty,
		Price:         price,
		TotalValue:    total,
		Currency:      a.Currency,
		BrokerOrderID: st.OrderID,
		Status:        journal.TradeFailed,
		IsBacktest:    r.svc.opts.Backtest,
		ExecutedAt:    now,
	}
	if reportID != 0 {
		rec.DecisionReportID = &reportID
	}
	if r.svc.opts.BacktestRunID != "" {
		id := r.svc.opts.BacktestRunID
		rec.BacktestRunID = &id
	}

	if filled {
		posID, err := portfolio.ApplyFill(ctx, tx, portfolio.Fill{
			InstrumentID: a.InstrumentID,
			Side:         a.Side,
			Quantity:     qty,
			Price:        price,
			Currency:     a.Currency,
			At:           now,
		})
		if err != nil {
			return false, err
		}
		rec.Status = journal.TradeFilled
		rec.PositionID = &posID
	} else {
		r.log.Warn().Str("ticker", a.Ticker).Str("status", st.Status).Str("message", st.Message).Msg("order_not_filled")
	}

	if err := tx.CreateTrade(ctx, rec); err != nil {
		return false, err
	}
	return filled, nil
}

// latestCloses maps every analyzed ticker to its latest close.
func (r *run) latestCloses() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.data))
	for _, d := range r.data {
		if c := d.latestClose(); c.IsPositive() {
			out[d.inst.Ticker] = c
		}
	}
	return out
}

// holdings lists the open positions the run started with.
func (r *run) holdings() []broker.Holding {
	out := make([]broker.Holding, 0, len(r.state.Positions))
	for _, p := range r.state.Positions {
		out = append(out, broker.Holding{
			Ticker:       p.Ticker,
			Quantity:     p.Quantity,
			AvgPrice:     p.AvgPrice,
			CurrentPrice: p.CurrentPrice,
		})
	}
	return out
}
