package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const positionColumns = `p.id, p.instrument_id, i.ticker, p.quantity, p.avg_price, p.currency, p.status, p.opened_at, p.closed_at`

const positionFrom = ` FROM positions p JOIN instruments i ON i.id = p.instrument_id`

// OpenPositions lists the open ledger entries by ticker.
func (q querier) OpenPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := q.sel(ctx, &out, `SELECT `+positionColumns+positionFrom+` WHERE p.status = ? ORDER BY i.ticker`, PositionOpen)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	return out, nil
}

// OpenPositionByInstrument returns the open position for an instrument or
// ErrNotFound.
func (q querier) OpenPositionByInstrument(ctx context.Context, instrumentID int64) (Position, error) {
	var p Position
	err := q.get(ctx, &p, `SELECT `+positionColumns+positionFrom+`
		WHERE p.instrument_id = ? AND p.status = ? ORDER BY p.id DESC LIMIT 1`, instrumentID, PositionOpen)
	if err != nil {
		return Position{}, fmt.Errorf("open position for instrument %d: %w", instrumentID, err)
	}
	return p, nil
}

// CreatePosition opens a position and sets its ID.
func (q querier) CreatePosition(ctx context.Context, p *Position) error {
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	p.Status = PositionOpen
	id, err := q.insert(ctx, `
		INSERT INTO positions (instrument_id, quantity, avg_price, currency, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.InstrumentID, p.Quantity, p.AvgPrice, p.Currency, p.Status, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("create position for instrument %d: %w", p.InstrumentID, err)
	}
	p.ID = id
	return nil
}

// UpdatePosition sets quantity and average price.
func (q querier) UpdatePosition(ctx context.Context, id int64, qty, avgPrice decimal.Decimal) error {
	res, err := q.exec(ctx, `UPDATE positions SET quantity = ?, avg_price = ? WHERE id = ?`, qty, avgPrice, id)
	if err != nil {
		return fmt.Errorf("update position %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("position %d: %w", id, ErrNotFound)
	}
	return nil
}

// ClosePosition marks a position closed with zero quantity.
func (q querier) ClosePosition(ctx context.Context, id int64, at time.Time) error {
	res, err := q.exec(ctx, `UPDATE positions SET status = ?, quantity = ?, closed_at = ? WHERE id = ?`,
		PositionClosed, decimal.Zero, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("close position %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("position %d: %w", id, ErrNotFound)
	}
	return nil
}

const tradeColumns = `t.id, t.position_id, t.decision_report_id, t.instrument_id, i.ticker, t.side, t.quantity,
	t.price, t.total_value, t.currency, t.broker_order_id, t.status, t.is_backtest, t.backtest_run_id, t.executed_at`

// CreateTrade records an order outcome and sets its ID.
func (q querier) CreateTrade(ctx context.Context, t *TradeRecord) error {
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = time.Now().UTC()
	}
	if t.Currency == "" {
		t.Currency = "USD"
	}
	id, err := q.insert(ctx, `
		INSERT INTO trades (position_id, decision_report_id, instrument_id, side, quantity, price, total_value,
			currency, broker_order_id, status, is_backtest, backtest_run_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PositionID, t.DecisionReportID, t.InstrumentID, t.Side, t.Quantity, t.Price, t.TotalValue,
		t.Currency, t.BrokerOrderID, t.Status, t.IsBacktest, t.BacktestRunID, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("create trade for instrument %d: %w", t.InstrumentID, err)
	}
	t.ID = id
	return nil
}

// TradeFilter narrows ListTrades.
type TradeFilter struct {
	Ticker          string
	Status          string
	IncludeBacktest bool
	Limit           int
}

// ListTrades returns matching trades, newest first.
func (q querier) ListTrades(ctx context.Context, f TradeFilter) ([]TradeRecord, error) {
	var where []string
	var args []any
	if f.Ticker != "" {
		where = append(where, "i.ticker = ?")
		args = append(args, strings.ToUpper(f.Ticker))
	}
	if f.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, strings.ToUpper(f.Status))
	}
	if !f.IncludeBacktest {
		where = append(where, "t.is_backtest = ?")
		args = append(args, false)
	}
	query := `SELECT ` + tradeColumns + ` FROM trades t JOIN instruments i ON i.id = t.instrument_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY t.executed_at DESC, t.id DESC LIMIT ?`
	args = append(args, limit)

	var out []TradeRecord
	if err := q.sel(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return out, nil
}

// CountTrades counts trades with the given status.
func (q querier) CountTrades(ctx context.Context, status string) (int, error) {
	var n int
	if err := q.get(ctx, &n, `SELECT COUNT(*) FROM trades WHERE status = ?`, status); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// RoundTrips pairs every filled sell with the average cost of the position
// it closed.
func (q querier) RoundTrips(ctx context.Context) ([]RoundTrip, error) {
	var out []RoundTrip
	err := q.sel(ctx, &out, `
		SELECT i.ticker, t.quantity, p.avg_price, t.price
		FROM trades t
		JOIN positions p ON p.id = t.position_id
		JOIN instruments i ON i.id = t.instrument_id
		WHERE t.side = ? AND t.status = ?
		ORDER BY t.id`, "SELL", TradeFilled)
	if err != nil {
		return nil, fmt.Errorf("round trips: %w", err)
	}
	return out, nil
}
