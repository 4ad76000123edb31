package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/tradeagent/market"
)

// CreatePortfolioSnapshot inserts a snapshot and sets its ID.
func (q querier) CreatePortfolioSnapshot(ctx context.Context, s *PortfolioSnapshot) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	id, err := q.insert(ctx, `
		INSERT INTO portfolio_snapshots (date, total_value, cash, invested, daily_pnl, cumulative_pnl_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		market.Day(s.Date), s.TotalValue, s.Cash, s.Invested, s.DailyPnL, s.CumulativePnLPct, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create portfolio snapshot %s: %w", s.Date.Format(market.DateLayout), err)
	}
	s.ID = id
	return nil
}

// LatestPortfolioSnapshot returns the newest snapshot dated before day, or
// ErrNotFound.
func (q querier) LatestPortfolioSnapshot(ctx context.Context, before time.Time) (PortfolioSnapshot, error) {
	var s PortfolioSnapshot
	err := q.get(ctx, &s, `
		SELECT id, date, total_value, cash, invested, daily_pnl, cumulative_pnl_pct, created_at
		FROM portfolio_snapshots WHERE date < ? ORDER BY date DESC, id DESC LIMIT 1`, market.Day(before))
	if err != nil {
		return PortfolioSnapshot{}, fmt.Errorf("latest portfolio snapshot: %w", err)
	}
	return s, nil
}

// CreatePositionSnapshots stores the positions of a snapshot.
func (q querier) CreatePositionSnapshots(ctx context.Context, snapshotID int64, rows []PositionSnapshot) error {
	for i := range rows {
		r := &rows[i]
		r.SnapshotID = snapshotID
		id, err := q.insert(ctx, `
			INSERT INTO position_snapshots (snapshot_id, instrument_id, quantity, price, market_value, weight_pct)
			VALUES (?, ?, ?, ?, ?, ?)`,
			snapshotID, r.InstrumentID, r.Quantity, r.Price, r.MarketValue, r.WeightPct)
		if err != nil {
			return fmt.Errorf("create position snapshot for instrument %d: %w", r.InstrumentID, err)
		}
		r.ID = id
	}
	return nil
}

// PositionSnapshots lists the positions of a snapshot.
func (q querier) PositionSnapshots(ctx context.Context, snapshotID int64) ([]PositionSnapshot, error) {
	var out []PositionSnapshot
	err := q.sel(ctx, &out, `
		SELECT id, snapshot_id, instrument_id, quantity, price, market_value, weight_pct
		FROM position_snapshots WHERE snapshot_id = ? ORDER BY id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("position snapshots %d: %w", snapshotID, err)
	}
	return out, nil
}
