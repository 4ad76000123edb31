package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/market"
)

// SnapshotStore is what the Snapshotter reads and writes.
type SnapshotStore interface {
	StateSource
	LatestPortfolioSnapshot(ctx context.Context, before time.Time) (journal.PortfolioSnapshot, error)
	CreatePortfolioSnapshot(ctx context.Context, s *journal.PortfolioSnapshot) error
	CreatePositionSnapshots(ctx context.Context, snapshotID int64, rows []journal.PositionSnapshot) error
}

// Snapshotter records end-of-day valuations.
type Snapshotter struct {
	initial decimal.Decimal
	logger  zerolog.Logger
}

// NewSnapshotter creates a Snapshotter for a portfolio started with
// initialCapital.
func NewSnapshotter(initialCapital decimal.Decimal) *Snapshotter {
	return &Snapshotter{initial: initialCapital, logger: log.Logger}
}

// WithLogger sets the logger.
func (s *Snapshotter) WithLogger(l zerolog.Logger) *Snapshotter {
	s.logger = l
	return s
}

// Take values the portfolio and stores a snapshot for day. Daily P&L is
// measured against the previous snapshot, or the initial capital when there
// is none.
func (s *Snapshotter) Take(ctx context.Context, st SnapshotStore, day time.Time) (journal.PortfolioSnapshot, error) {
	state, err := BuildState(ctx, st, s.initial)
	if err != nil {
		return journal.PortfolioSnapshot{}, err
	}

	invested := state.TotalValue.Sub(state.Cash)
	prevTotal := s.initial
	prev, err := st.LatestPortfolioSnapshot(ctx, day)
	switch {
	case err == nil:
		prevTotal = prev.TotalValue
	case !errors.Is(err, journal.ErrNotFound):
		return journal.PortfolioSnapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	cumulative := 0.0
	if s.initial.IsPositive() {
		cumulative = state.TotalValue.Sub(s.initial).Div(s.initial).Mul(hundred).Round(4).InexactFloat64()
	}

	snap := journal.PortfolioSnapshot{
		Date:             market.Day(day),
		TotalValue:       state.TotalValue,
		Cash:             state.Cash,
		Invested:         invested,
		DailyPnL:         state.TotalValue.Sub(prevTotal).Round(4),
		CumulativePnLPct: cumulative,
	}
	if err := st.CreatePortfolioSnapshot(ctx, &snap); err != nil {
		return journal.PortfolioSnapshot{}, err
	}

	rows := make([]journal.PositionSnapshot, 0, len(state.Positions))
	for _, p := range state.Positions {
		rows = append(rows, journal.PositionSnapshot{
			InstrumentID: p.InstrumentID,
			Quantity:     p.Quantity,
			Price:        p.CurrentPrice,
			MarketValue:  p.MarketValue,
			WeightPct:    WeightPct(p.MarketValue, state.TotalValue, 3),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].InstrumentID < rows[j].InstrumentID })
	if err := st.CreatePositionSnapshots(ctx, snap.ID, rows); err != nil {
		return journal.PortfolioSnapshot{}, err
	}

	s.logger.Info().
		Str("date", snap.Date.Format(market.DateLayout)).
		Str("total_value", snap.TotalValue.StringFixed(2)).
		Int("positions", len(rows)).
		Msg("portfolio_snapshot_created")
	return snap, nil
}
