package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/indicators"
	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/memory"
	"github.com/rustyeddy/tradeagent/news"
	"github.com/rustyeddy/tradeagent/portfolio"
	"github.com/rustyeddy/tradeagent/reasoning"
	"github.com/rustyeddy/tradeagent/risk"
	"github.com/rustyeddy/tradeagent/screening"
)

// Step names used in logs and metrics.
const (
	StepFetchMarketData = "fetch_market_data"
	StepIndicators      = "compute_indicators"
	StepScreen          = "screen_candidates"
	StepNews            = "fetch_news"
	StepMemory          = "retrieve_memory"
	StepPackage         = "build_analysis_package"
	StepAnalyze         = "llm_analyze"
	StepProposals       = "parse_proposals"
	StepRisk            = "risk_validate"
	StepPersist         = "persist_and_execute"
)

const defaultAllocationPct = 3.0

// instrumentData is one instrument after step 1.
type instrumentData struct {
	inst         journal.Instrument
	bars         []market.Bar
	fundamentals market.Summary
	indicators   indicators.Snapshot
}

// latestClose is the close of the newest bar, or zero without bars.
func (d instrumentData) latestClose() decimal.Decimal {
	if len(d.bars) == 0 {
		return decimal.Zero
	}
	return d.bars[len(d.bars)-1].Close
}

// run carries the state of one execution across steps.
type run struct {
	svc *Service
	res RunResult
	log zerolog.Logger

	data       []instrumentData
	state      risk.PortfolioState
	candidates []screening.Candidate
	news       []news.Item
	memory     map[int64][]memory.Item
	pkg        reasoning.Package
	response   reasoning.Response
	proposals  []risk.Proposal
	verdict    risk.Result
}

func (r *run) fail(kind, msg string) {
	r.res.Errors = append(r.res.Errors, msg)
	r.svc.opts.Metrics.countError(kind)
}

func (r *run) timed(step string, fn func() error) error {
	start := time.Now()
	err := fn()
	result := "ok"
	if err != nil {
		result = "error"
	}
	d := time.Since(start)
	r.svc.opts.Metrics.observeStep(step, result, d)
	r.log.Debug().Str("step", step).Dur("elapsed", d).Str("result", result).Msg("pipeline_step_finished")
	return err
}

func (r *run) steps(ctx context.Context, tx *journal.Tx) error {
	if err := r.timed(StepFetchMarketData, func() error { return r.fetchMarketData(ctx, tx) }); err != nil {
		return err
	}
	_ = r.timed(StepIndicators, func() error { r.computeIndicators(); return nil })
	if err := r.timed(StepScreen, func() error { return r.screen(ctx, tx) }); err != nil {
		return err
	}
	_ = r.timed(StepNews, func() error { return r.fetchNews(ctx) })
	_ = r.timed(StepMemory, func() error { r.retrieveMemory(ctx, tx); return nil })
	_ = r.timed(StepPackage, func() error { r.buildPackage(); return nil })
	if err := r.timed(StepAnalyze, func() error { return r.analyze(ctx) }); err != nil {
		return err
	}
	_ = r.timed(StepProposals, func() error { r.parseProposals(); return nil })
	_ = r.timed(StepRisk, func() error { r.validate(); return nil })
	return r.timed(StepPersist, func() error { return r.persistAndExecute(ctx, tx) })
}

// Step 1.
func (r *run) fetchMarketData(ctx context.Context, tx *journal.Tx) error {
	instruments, err := tx.ActiveInstruments(ctx)
	if err != nil {
		return err
	}
	if len(instruments) == 0 {
		return critical(StepFetchMarketData, ErrNoMarketData)
	}

	tickers := make([]string, len(instruments))
	for i, in := range instruments {
		tickers[i] = in.Ticker
	}
	end := market.Day(r.svc.opts.Now())
	start := end.AddDate(0, 0, -r.svc.opts.LookbackDays)
	r.log.Info().Int("num_tickers", len(tickers)).Msg("fetching_market_data")

	prices, err := r.svc.deps.Market.FetchPrices(ctx, tickers, start, end)
	if err != nil {
		return criticalf(StepFetchMarketData, "market data fetch failed: %w", err)
	}
	funds, err := r.svc.deps.Market.FetchFundamentals(ctx, tickers)
	if err != nil {
		r.fail("fundamentals", fmt.Sprintf("Fundamentals fetch failed: %v", err))
		r.log.Warn().Err(err).Msg("fundamentals_fetch_failed")
		funds = nil
	}

	for _, in := range instruments {
		series, ok := prices[in.Ticker]
		if !ok {
			continue
		}
		if len(series.Valid) > 0 {
			if _, err := tx.UpsertPrices(ctx, in.ID, series.Valid); err != nil {
				return err
			}
		}
		if series.Rejected > 0 {
			r.log.Warn().Str("ticker", in.Ticker).Int("rejected", series.Rejected).Msg("price_bars_rejected")
		}

		d := instrumentData{inst: in, bars: series.Valid}
		if f, ok := funds[in.Ticker]; ok {
			if f.SnapshotDate.IsZero() {
				f.SnapshotDate = end
			}
			if err := tx.UpsertFundamentals(ctx, in.ID, f); err != nil {
				return err
			}
			if err := tx.UpdateInstrumentMeta(ctx, in.ID, f); err != nil {
				return err
			}
			if f.Sector != "" {
				d.inst.Sector = f.Sector
			}
			if f.Name != "" {
				d.inst.Name = f.Name
			}
			d.fundamentals = f.Summary()
		}
		r.data = append(r.data, d)
	}

	r.res.InstrumentsAnalyzed = len(r.data)
	if len(r.data) == 0 {
		return critical(StepFetchMarketData, ErrNoMarketData)
	}
	r.log.Info().Int("instruments", len(r.data)).Msg("market_data_fetched")
	return nil
}

// Step 2. Instruments without bars are skipped quietly; a computation
// failure is recorded.
func (r *run) computeIndicators() {
	kept := r.data[:0]
	for _, d := range r.data {
		if len(d.bars) == 0 {
			continue
		}
		snap, err := indicators.Compute(d.bars, r.svc.opts.Indicators)
		if err != nil {
			r.fail("indicators", fmt.Sprintf("Indicator computation failed for %s: %v", d.inst.Ticker, err))
			r.log.Warn().Err(err).Str("ticker", d.inst.Ticker).Msg("indicator_computation_failed")
			continue
		}
		d.indicators = snap
		kept = append(kept, d)
	}
	r.data = kept
}

// Step 3.
func (r *run) screen(ctx context.Context, tx *journal.Tx) error {
	state, err := portfolio.BuildState(ctx, tx, r.svc.opts.InitialCapital)
	if err != nil {
		return err
	}
	r.state = state

	held := make(map[int64]bool, len(state.Positions))
	for id := range state.Positions {
		held[id] = true
	}
	inputs := make([]screening.Input, len(r.data))
	for i, d := range r.data {
		inputs[i] = screening.Input{
			InstrumentID: d.inst.ID,
			Ticker:       d.inst.Ticker,
			Sector:       d.inst.Sector,
			Indicators:   d.indicators,
			Fundamentals: d.fundamentals,
		}
	}
	r.candidates = r.svc.ranker.Rank(inputs, held)
	r.res.CandidatesScreened = len(r.candidates)
	r.log.Info().Int("candidates", len(r.candidates)).Msg("candidates_screened")
	return nil
}

// Step 4. Failures are recorded and the run continues without news.
func (r *run) fetchNews(ctx context.Context) error {
	tickers := make([]string, len(r.candidates))
	for i, c := range r.candidates {
		tickers[i] = c.Ticker
	}
	topics := news.Topics(r.svc.opts.NewsTopicLimit, r.svc.opts.NewsSectors, tickers)
	if len(topics) == 0 {
		return nil
	}

	if r.svc.opts.NewsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.svc.opts.NewsTimeout)
		defer cancel()
	}
	items, err := r.svc.deps.News.Query(ctx, topics)
	if err != nil {
		r.fail("news", fmt.Sprintf("News fetch failed: %v", err))
		r.log.Warn().Err(err).Msg("news_fetch_failed")
		r.news = nil
		return err
	}
	r.news = items
	return nil
}

// Step 5. The retriever degrades per strategy, so nothing here fails.
func (r *run) retrieveMemory(ctx context.Context, tx *journal.Tx) {
	r.memory = make(map[int64][]memory.Item, len(r.candidates))
	for _, c := range r.candidates {
		q := memory.Query{
			InstrumentID: c.InstrumentID,
			Ticker:       c.Ticker,
			Sector:       c.Sector,
			RSI:          c.Indicators.RSI,
		}
		if c.Indicators.MACD != nil {
			q.MACDDirection = c.Indicators.MACD.Direction
		}
		if items := r.svc.retriever.Retrieve(ctx, tx, q); len(items) > 0 {
			r.memory[c.InstrumentID] = items
		}
	}
}

// Step 6.
func (r *run) buildPackage() {
	pkg := reasoning.Package{
		Portfolio: portfolioSummary(r.state),
	}
	for _, c := range r.candidates {
		rc := reasoning.Candidate{
			Ticker:       c.Ticker,
			Sector:       c.Sector,
			TotalScore:   c.TotalScore,
			RSI:          c.Indicators.RSI,
			InPortfolio:  c.InPortfolio,
			Fundamentals: c.Fundamentals,
		}
		if c.Indicators.MACD != nil {
			rc.MACDDirection = c.Indicators.MACD.Direction
		}
		pkg.Candidates = append(pkg.Candidates, rc)
		pkg.Memory = append(pkg.Memory, memory.FormatForPrompt(r.memory[c.InstrumentID])...)
	}
	for _, n := range r.news {
		pkg.News = append(pkg.News, reasoning.NewsLine{Headline: n.Headline, Summary: n.Summary, Source: n.Source})
	}
	r.pkg = pkg
}

func portfolioSummary(s risk.PortfolioState) reasoning.PortfolioSummary {
	return reasoning.PortfolioSummary{
		TotalValue: s.TotalValue.String(),
		Cash:       s.Cash.String(),
		Positions:  s.OpenPositions,
	}
}

// Step 7. Any failure here is critical.
func (r *run) analyze(ctx context.Context) error {
	resp, err := r.svc.deps.Analyzer.Analyze(ctx, r.pkg)
	if err != nil {
		return criticalf(StepAnalyze, "LLM analysis failed: %w", err)
	}
	r.response = resp
	return nil
}

// Step 8. Recommendations that do not name a candidate or propose neither
// a buy nor a sell are dropped.
func (r *run) parseProposals() {
	byTicker := make(map[string]screening.Candidate, len(r.candidates))
	for _, c := range r.candidates {
		byTicker[strings.ToUpper(c.Ticker)] = c
	}
	closes := make(map[int64]decimal.Decimal, len(r.data))
	for _, d := range r.data {
		closes[d.inst.ID] = d.latestClose()
	}

	for _, rec := range r.response.Parsed.Recommendations {
		action := strings.ToUpper(strings.TrimSpace(rec.Action))
		if action != risk.Buy && action != risk.Sell {
			continue
		}
		c, ok := byTicker[strings.ToUpper(strings.TrimSpace(rec.Ticker))]
		if !ok {
			continue
		}
		alloc := defaultAllocationPct
		if rec.AllocationPct != nil {
			alloc = *rec.AllocationPct
		}
		r.proposals = append(r.proposals, risk.Proposal{
			InstrumentID:  c.InstrumentID,
			Ticker:        c.Ticker,
			Action:        action,
			Confidence:    rec.Confidence,
			Reasoning:     rec.Reasoning,
			AllocationPct: alloc,
			Price:         closes[c.InstrumentID],
			Currency:      r.svc.opts.Currency,
		})
	}
}

// Step 9.
func (r *run) validate() {
	r.verdict = r.svc.validator.Validate(r.proposals, r.state)
	r.res.TradesApproved = len(r.verdict.Approved)
	r.log.Info().
		Int("proposals", len(r.proposals)).
		Int("approved", len(r.verdict.Approved)).
		Int("rejected", len(r.verdict.Rejected)).
		Msg("risk_validated")
}

// Step 10.
func (r *run) persistAndExecute(ctx context.Context, tx *journal.Tx) error {
	reports, err := r.writeReports(ctx, tx)
	if err != nil {
		return err
	}
	if r.svc.deps.Broker == nil || len(r.verdict.Approved) == 0 {
		return nil
	}
	return r.execute(ctx, tx, reports)
}
