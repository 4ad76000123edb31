package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeagent/market"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(s string) time.Time {
	d, err := market.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func addInstrument(t *testing.T, s *Store, ticker, sector string) Instrument {
	t.Helper()
	in, err := s.AddInstrument(context.Background(), Instrument{Ticker: ticker, Name: ticker + " Inc", Sector: sector})
	require.NoError(t, err)
	return in
}

func TestInstruments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	aapl := addInstrument(t, s, "aapl", "Technology")
	assert.Equal(t, "AAPL", aapl.Ticker)
	assert.True(t, aapl.IsActive)
	assert.Equal(t, "USD", aapl.Currency)
	addInstrument(t, s, "MSFT", "Technology")

	require.NoError(t, s.SetInstrumentActive(ctx, "msft", false))
	active, err := s.ActiveInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "AAPL", active[0].Ticker)

	all, err := s.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	again := addInstrument(t, s, "MSFT", "")
	assert.True(t, again.IsActive, "re-adding reactivates")

	_, err = s.InstrumentByTicker(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetInstrumentActive(ctx, "NOPE", true), ErrNotFound)

	_, err = s.AddInstrument(ctx, Instrument{Ticker: "  "})
	assert.Error(t, err)

	require.NoError(t, s.UpdateInstrumentMeta(ctx, aapl.ID, market.Fundamentals{Industry: "Hardware"}))
	got, err := s.InstrumentByTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Hardware", got.Industry)
	assert.Equal(t, "Technology", got.Sector, "empty values keep the stored sector")
}

func TestPricesAndFundamentals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	in := addInstrument(t, s, "AAPL", "Technology")

	_, ok, err := s.LatestClose(ctx, in.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	mk := func(date, close string) market.Bar {
		c := dec(close)
		return market.Bar{Ticker: "AAPL", Date: day(date), Open: c, High: c, Low: c, Close: c, AdjClose: c, Volume: 1000}
	}
	n, err := s.UpsertPrices(ctx, in.ID, []market.Bar{mk("2024-03-04", "170.10"), mk("2024-03-05", "171.25")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// same date replaces the stored bar
	_, err = s.UpsertPrices(ctx, in.ID, []market.Bar{mk("2024-03-05", "172.50")})
	require.NoError(t, err)

	bars, err := s.Prices(ctx, in.ID, "AAPL", day("2024-03-01"), day("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Date.Equal(day("2024-03-04")))
	assert.True(t, bars[1].Close.Equal(dec("172.50")))

	last, ok, err := s.LatestClose(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, last.Equal(dec("172.5")))

	f := market.Fundamentals{
		Ticker:       "AAPL",
		SnapshotDate: day("2024-03-05"),
		MarketCap:    market.NullFromFloat(2.6e12, true),
		PERatio:      market.NullFromFloat(28.4, true),
	}
	require.NoError(t, s.UpsertFundamentals(ctx, in.ID, f))
	got, err := s.LatestFundamentals(ctx, in)
	require.NoError(t, err)
	require.True(t, got.PERatio.Valid)
	assert.True(t, got.PERatio.Decimal.Equal(dec("28.4")))
	assert.False(t, got.Beta.Valid)
	assert.Equal(t, "Technology", got.Sector)
}

func rsi(v float64) *float64 { return &v }

func TestDecisionQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	aapl := addInstrument(t, s, "AAPL", "Technology")
	msft := addInstrument(t, s, "MSFT", "Technology")
	xom := addInstrument(t, s, "XOM", "Energy")

	base := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	mk := func(in Instrument, action string, r float64, macd string, offset int) *DecisionReport {
		d := &DecisionReport{
			PipelineRunID: "run-1", InstrumentID: in.ID, Action: action, Confidence: 0.7,
			Reasoning: "because", TechnicalSummary: "{}", NewsSummary: "", PortfolioState: "{}",
			SignalRSI: rsi(r), SignalMACDDirection: macd, CreatedAt: base.Add(time.Duration(offset) * time.Hour),
		}
		require.NoError(t, s.CreateDecision(ctx, d))
		require.NotZero(t, d.ID)
		return d
	}

	d1 := mk(aapl, "BUY", 35, "bullish", 0)
	d2 := mk(msft, "BUY", 38, "bullish", 1)
	d3 := mk(msft, "SELL", 72, "bearish", 2)
	mk(xom, "HOLD", 36, "bullish", 3)

	require.NoError(t, s.UpdateOutcome(ctx, d2.ID, dec("-5"), dec("-1"), base))
	require.NoError(t, s.UpdateOutcome(ctx, d3.ID, dec("12.5"), dec("2"), base))
	assert.ErrorIs(t, s.UpdateOutcome(ctx, 999, decimal.Zero, decimal.Zero, base), ErrNotFound)

	got, err := s.Decision(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, "Technology", got.Sector)
	require.NotNil(t, got.SignalRSI)
	assert.InDelta(t, 35, *got.SignalRSI, 1e-9)
	assert.False(t, got.OutcomePnL.Valid)

	byInst, err := s.DecisionsByInstrument(ctx, msft.ID, false, 10)
	require.NoError(t, err)
	require.Len(t, byInst, 2)
	assert.Equal(t, d3.ID, byInst[0].ID, "newest first")

	sector, err := s.DecisionsBySector(ctx, "Technology", aapl.ID, false, 10)
	require.NoError(t, err)
	require.Len(t, sector, 2)
	assert.Equal(t, d3.ID, sector[0].ID, "best outcome first")
	assert.Equal(t, d2.ID, sector[1].ID)

	similar, err := s.DecisionsBySimilarSignals(ctx, 30, 40, "bullish", false, 10)
	require.NoError(t, err)
	require.Len(t, similar, 3)
	assert.Equal(t, d2.ID, similar[0].ID, "assessed before unassessed")

	unassessed, err := s.UnassessedDecisions(ctx, base.Add(24*time.Hour), false)
	require.NoError(t, err)
	assert.Len(t, unassessed, 2)

	backtest, err := s.DecisionsByInstrument(ctx, msft.ID, true, 10)
	require.NoError(t, err)
	assert.Empty(t, backtest)

	listed, err := s.ListDecisions(ctx, DecisionFilter{Ticker: "msft", Action: "sell"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, d3.ID, listed[0].ID)

	items := []ContextItem{
		{ContextType: ContextTechnical, Source: "indicators", Content: "{}"},
		{ContextType: ContextMemory, Source: "memory", Content: "none"},
	}
	require.NoError(t, s.CreateContextItems(ctx, d1.ID, items))
	stored, err := s.ContextItems(ctx, d1.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, ContextMemory, stored[1].ContextType)
}

func TestPositionsAndTrades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	in := addInstrument(t, s, "AAPL", "Technology")

	_, err := s.OpenPositionByInstrument(ctx, in.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	p := &Position{InstrumentID: in.ID, Quantity: dec("10"), AvgPrice: dec("100")}
	require.NoError(t, s.CreatePosition(ctx, p))
	require.NoError(t, s.UpdatePosition(ctx, p.ID, dec("15"), dec("103.3333")))

	open, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "AAPL", open[0].Ticker)
	assert.True(t, open[0].AvgPrice.Equal(dec("103.3333")))

	buy := &TradeRecord{PositionID: &p.ID, InstrumentID: in.ID, Side: "BUY", Quantity: dec("15"),
		Price: dec("100"), TotalValue: dec("1500"), Status: TradeFilled}
	require.NoError(t, s.CreateTrade(ctx, buy))
	sell := &TradeRecord{PositionID: &p.ID, InstrumentID: in.ID, Side: "SELL", Quantity: dec("15"),
		Price: dec("110"), TotalValue: dec("1650"), Status: TradeFilled}
	require.NoError(t, s.CreateTrade(ctx, sell))
	failed := &TradeRecord{InstrumentID: in.ID, Side: "BUY", Quantity: dec("1"), Price: dec("1"),
		TotalValue: dec("1"), Status: TradeFailed}
	require.NoError(t, s.CreateTrade(ctx, failed))

	require.NoError(t, s.ClosePosition(ctx, p.ID, time.Now()))
	open, err = s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	n, err := s.CountTrades(ctx, TradeFilled)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	trips, err := s.RoundTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.True(t, trips[0].Win())

	trades, err := s.ListTrades(ctx, TradeFilter{Ticker: "aapl", Status: "filled"})
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestSnapshotsAndRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	in := addInstrument(t, s, "AAPL", "Technology")

	_, err := s.LatestPortfolioSnapshot(ctx, day("2024-03-05"))
	assert.ErrorIs(t, err, ErrNotFound)

	snap := &PortfolioSnapshot{Date: day("2024-03-04"), TotalValue: dec("50100"), Cash: dec("40000"),
		Invested: dec("10100"), DailyPnL: dec("100"), CumulativePnLPct: 0.2}
	require.NoError(t, s.CreatePortfolioSnapshot(ctx, snap))
	require.NoError(t, s.CreatePositionSnapshots(ctx, snap.ID, []PositionSnapshot{
		{InstrumentID: in.ID, Quantity: dec("10"), Price: dec("1010"), MarketValue: dec("10100"), WeightPct: 20.16},
	}))

	latest, err := s.LatestPortfolioSnapshot(ctx, day("2024-03-05"))
	require.NoError(t, err)
	assert.True(t, latest.TotalValue.Equal(dec("50100")))
	rows, err := s.PositionSnapshots(ctx, snap.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	started := time.Now().UTC()
	run := PipelineRun{ID: "run-1", Status: "running", StartedAt: started}
	require.NoError(t, s.RecordPipelineRun(ctx, run))
	finished := started.Add(time.Minute)
	run.Status, run.FinishedAt, run.TradesExecuted = "completed", &finished, 2
	require.NoError(t, s.RecordPipelineRun(ctx, run))
	got, err := s.GetPipelineRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 2, got.TradesExecuted)
	assert.Equal(t, "[]", got.Errors)
	require.NotNil(t, got.FinishedAt)

	bt := BacktestRun{ID: "bt-1", Name: "q1", StartDate: day("2024-01-01"), EndDate: day("2024-03-29"),
		InitialCapital: dec("50000"), Status: "running"}
	require.NoError(t, s.RecordBacktestRun(ctx, bt))
	bt.Status = "completed"
	bt.FinalValue = decimal.NewNullDecimal(dec("51000"))
	bt.TotalReturnPct = 2
	require.NoError(t, s.RecordBacktestRun(ctx, bt))

	gotBT, err := s.GetBacktestRun(ctx, "bt-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", gotBT.Status)
	require.True(t, gotBT.FinalValue.Valid)
	assert.True(t, gotBT.FinalValue.Decimal.Equal(dec("51000")))

	list, err := s.ListBacktestRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTxRollbackDiscardsWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	in := addInstrument(t, s, "AAPL", "Technology")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreatePosition(ctx, &Position{InstrumentID: in.ID, Quantity: dec("1"), AvgPrice: dec("1")}))
	require.NoError(t, tx.Rollback())
	assert.NoError(t, tx.Rollback(), "second rollback is a no-op")

	open, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreatePosition(ctx, &Position{InstrumentID: in.ID, Quantity: dec("1"), AvgPrice: dec("1")}))
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())

	open, err = s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestTxRollbackOnInsertError(t *testing.T) {
	t.Parallel()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := NewStore(sqlx.NewDb(mockDB, "sqlmock"))
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO trades").WillReturnError(boom)
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	err = tx.CreateTrade(ctx, &TradeRecord{InstrumentID: 1, Side: "BUY", Status: TradeFilled})
	require.ErrorIs(t, err, boom)
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}
