package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/marketdata"
	"github.com/rustyeddy/tradeagent/news"
	"github.com/rustyeddy/tradeagent/pipeline"
	"github.com/rustyeddy/tradeagent/reasoning"
	"github.com/rustyeddy/tradeagent/reasoning/scripted"
	"github.com/rustyeddy/tradeagent/replay"
	"github.com/rustyeddy/tradeagent/sim"
)

// DefaultLookbackBuffer is how many calendar days before the start are
// prefetched so indicators are warm on the first day.
const DefaultLookbackBuffer = 400

// Failure messages.
const (
	MsgNoTradingDays = "No trading days in the given range"
	MsgNoInstruments = "No active stocks found in database"
	MsgCancelled     = "backtest cancelled"
)

// Engine runs backtests. The main store supplies instruments and receives
// the run summary; each backtest trades in its own scratch journal.
type Engine struct {
	store    *journal.Store
	market   marketdata.Provider
	analyzer reasoning.Analyzer
	news     news.Source
	opts     pipeline.Options
	buffer   int
	progress prometheus.Gauge
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnalyzer replaces the scripted analyzer.
func WithAnalyzer(a reasoning.Analyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// WithNews sets the news source. The default returns nothing.
func WithNews(s news.Source) Option {
	return func(e *Engine) { e.news = s }
}

// WithPipelineOptions sets the base pipeline options. Capital, clock and
// backtest tags are overridden per run.
func WithPipelineOptions(o pipeline.Options) Option {
	return func(e *Engine) { e.opts = o }
}

// WithLookbackBuffer sets the prefetch buffer in calendar days.
func WithLookbackBuffer(days int) Option {
	return func(e *Engine) { e.buffer = days }
}

// WithProgressGauge reports progress to g.
func WithProgressGauge(g prometheus.Gauge) Option {
	return func(e *Engine) { e.progress = g }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. md is the live provider used for the one-off
// prefetch.
func New(store *journal.Store, md marketdata.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		market:   md,
		analyzer: scripted.New(),
		news:     news.Static{},
		opts:     pipeline.DefaultOptions(),
		buffer:   DefaultLookbackBuffer,
		logger:   log.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start launches a backtest in the background and returns its live result.
func (e *Engine) Start(ctx context.Context, cfg Config) *Result {
	res := newResult(uuid.New().String(), cfg, e.now())
	go e.execute(ctx, res)
	return res
}

// Run executes a backtest and returns once it has finished.
func (e *Engine) Run(ctx context.Context, cfg Config) *Result {
	res := newResult(uuid.New().String(), cfg, e.now())
	e.execute(ctx, res)
	return res
}

func (e *Engine) execute(ctx context.Context, res *Result) {
	defer close(res.done)
	cfg := res.s.Config
	logger := e.logger.With().Str("backtest_run_id", res.ID()).Logger()

	e.replay(ctx, res, logger)

	now := e.now()
	res.update(func(s *Snapshot) { s.CompletedAt = &now })
	e.persist(res, logger)

	snap := res.Snapshot()
	logger.Info().
		Str("status", string(snap.Status)).
		Int("total_days", snap.TotalDays).
		Str("start", cfg.Start.Format(market.DateLayout)).
		Str("end", cfg.End.Format(market.DateLayout)).
		Msg("backtest_completed")
}

func (e *Engine) replay(ctx context.Context, res *Result, logger zerolog.Logger) {
	cfg := res.s.Config
	days := market.TradingDays(cfg.Start, cfg.End)
	res.update(func(s *Snapshot) { s.TotalDays = len(days) })
	if len(days) == 0 {
		res.fail(MsgNoTradingDays)
		return
	}
	logger.Info().Int("trading_days", len(days)).Msg("backtest_started")

	instruments, err := e.store.ActiveInstruments(ctx)
	if err != nil {
		res.fail("Backtest failed: " + err.Error())
		return
	}
	if len(instruments) == 0 {
		res.fail(MsgNoInstruments)
		return
	}

	scratch, provider, err := e.prepare(ctx, res.ID(), cfg, instruments, logger)
	if err != nil {
		res.fail("Backtest failed: " + err.Error())
		logger.Error().Err(err).Msg("backtest_failed")
		return
	}
	defer scratch.Close()

	broker := sim.NewEngine(cfg.InitialCapital)
	var today time.Time
	broker.SetClock(func() time.Time { return today })

	opts := e.opts
	opts.InitialCapital = cfg.InitialCapital
	opts.Backtest = true
	opts.BacktestRunID = res.ID()
	opts.PaperFills = false
	opts.Now = func() time.Time { return today }
	l := logger
	opts.Logger = &l
	svc := pipeline.New(scratch, pipeline.Deps{
		Market:   provider,
		Analyzer: e.analyzer,
		News:     e.news,
		Broker:   broker,
	}, opts)

	for i, day := range days {
		if ctx.Err() != nil {
			res.fail(MsgCancelled)
			logger.Warn().Int("day", i+1).Msg("backtest_cancelled")
			return
		}
		today = day
		provider.SetAsOf(day)
		broker.SetFillPrices(fillPrices(provider, instruments, days, i))

		err := runDay(ctx, svc)
		value, _ := broker.PortfolioValue().Float64()
		res.update(func(s *Snapshot) {
			s.CurrentDay = i + 1
			if err != nil {
				s.Errors = append(s.Errors, fmt.Sprintf("Day %s: %v", day.Format(market.DateLayout), err))
				if n := len(s.Equity); n > 0 {
					s.Equity = append(s.Equity, EquityPoint{Date: day, Value: s.Equity[n-1].Value})
				}
				return
			}
			s.Equity = append(s.Equity, EquityPoint{Date: day, Value: value})
		})
		if err != nil {
			logger.Warn().Err(err).Str("day", day.Format(market.DateLayout)).Msg("backtest_day_failed")
		}
		if e.progress != nil {
			e.progress.Set(float64(i+1) / float64(len(days)))
		}
	}

	trades, err := scratch.CountTrades(ctx, journal.TradeFilled)
	if err != nil {
		logger.Warn().Err(err).Msg("backtest_trade_count_failed")
	}
	winRate, err := winRate(ctx, scratch)
	if err != nil {
		logger.Warn().Err(err).Msg("backtest_win_rate_failed")
	}
	res.update(func(s *Snapshot) {
		m := Compute(s.Equity, len(days), trades, winRate)
		s.Metrics = &m
		s.Status = StatusCompleted
	})
}

// prepare opens the scratch journal, seeds it with the instruments and
// prefetches their history into a replay provider.
func (e *Engine) prepare(ctx context.Context, id string, cfg Config, instruments []journal.Instrument, logger zerolog.Logger) (*journal.Store, *replay.Provider, error) {
	scratch, err := journal.Open(journal.DriverSQLite, fmt.Sprintf("file:backtest-%s?mode=memory&cache=shared", id))
	if err != nil {
		return nil, nil, err
	}
	tickers := make([]string, len(instruments))
	for i, in := range instruments {
		tickers[i] = in.Ticker
		if _, err := scratch.AddInstrument(ctx, in); err != nil {
			_ = scratch.Close()
			return nil, nil, err
		}
	}

	start := market.Day(cfg.Start).AddDate(0, 0, -e.buffer)
	prices, err := e.market.FetchPrices(ctx, tickers, start, market.Day(cfg.End))
	if err != nil {
		_ = scratch.Close()
		return nil, nil, err
	}
	provider := replay.NewProvider()
	provider.Load(replay.Bars(prices))

	funds, err := e.market.FetchFundamentals(ctx, tickers)
	if err != nil {
		logger.Warn().Err(err).Msg("backtest_fundamentals_prefetch_failed")
	} else {
		provider.LoadFundamentals(funds)
	}
	logger.Info().Int("tickers", len(prices)).Time("from", start).Msg("backtest_prices_prefetched")
	return scratch, provider, nil
}

// fillPrices returns the next trading day's open for each ticker, or on
// the last day the latest close.
func fillPrices(p *replay.Provider, instruments []journal.Instrument, days []time.Time, i int) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(instruments))
	for _, in := range instruments {
		bars := p.Bars(in.Ticker)
		if i+1 < len(days) {
			if b, ok := market.On(bars, days[i+1]); ok {
				out[in.Ticker] = b.Open
			}
			continue
		}
		if upto := market.Until(bars, days[i]); len(upto) > 0 {
			out[in.Ticker] = upto[len(upto)-1].Close
		}
	}
	return out
}

func runDay(ctx context.Context, svc *pipeline.Service) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	_, err = svc.Run(ctx)
	return err
}

func winRate(ctx context.Context, st *journal.Store) (float64, error) {
	trips, err := st.RoundTrips(ctx)
	if err != nil || len(trips) == 0 {
		return 0, err
	}
	wins := 0
	for _, t := range trips {
		if t.Win() {
			wins++
		}
	}
	return float64(wins) / float64(len(trips)) * 100, nil
}

// persist writes the summary to the main store. It runs even when ctx has
// been cancelled.
func (e *Engine) persist(res *Result, logger zerolog.Logger) {
	snap := res.Snapshot()
	errs := snap.Errors
	if errs == nil {
		errs = []string{}
	}
	b, _ := json.Marshal(errs)

	row := journal.BacktestRun{
		ID:             snap.ID,
		Name:           snap.Config.Name,
		StartDate:      market.Day(snap.Config.Start),
		EndDate:        market.Day(snap.Config.End),
		InitialCapital: snap.Config.InitialCapital,
		Status:         string(snap.Status),
		Errors:         string(b),
		CreatedAt:      snap.StartedAt,
		CompletedAt:    snap.CompletedAt,
	}
	if v, ok := snap.FinalValue(); ok {
		row.FinalValue = decimal.NewNullDecimal(decimal.NewFromFloat(v))
	}
	if m := snap.Metrics; m != nil {
		row.TotalReturnPct = m.TotalReturnPct
		row.AnnualizedReturnPct = m.AnnualizedReturnPct
		row.MaxDrawdownPct = m.MaxDrawdownPct
		row.SharpeRatio = m.SharpeRatio
		row.TotalTrades = m.TotalTrades
		row.WinRate = m.WinRate
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.RecordBacktestRun(ctx, row); err != nil {
		logger.Error().Err(err).Msg("backtest_run_record_failed")
	}
}
