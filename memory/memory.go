// Package memory surfaces past decisions relevant to a candidate so the
// reasoning step can learn from earlier outcomes.
package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/journal"
)

// Retrieval strategies.
const (
	StrategyTicker  = "ticker"
	StrategySector  = "sector"
	StrategySignals = "similar_signals"
)

const snippetLen = 200

// Config bounds each strategy and the merged result.
type Config struct {
	MaxItemsPerCandidate int
	ExactTickerMax       int
	SectorMax            int
	SimilarSignalsMax    int
	RSITolerance         float64
	OutcomeLookbackDays  int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxItemsPerCandidate: 10,
		ExactTickerMax:       10,
		SectorMax:            5,
		SimilarSignalsMax:    5,
		RSITolerance:         10,
		OutcomeLookbackDays:  7,
	}
}

// DecisionSource is the slice of the journal the retriever reads.
type DecisionSource interface {
	DecisionsByInstrument(ctx context.Context, instrumentID int64, backtest bool, limit int) ([]journal.DecisionReport, error)
	DecisionsBySector(ctx context.Context, sector string, excludeID int64, backtest bool, limit int) ([]journal.DecisionReport, error)
	DecisionsBySimilarSignals(ctx context.Context, rsiLow, rsiHigh float64, macdDirection string, backtest bool, limit int) ([]journal.DecisionReport, error)
}

// OutcomeStore is what AssessOutcomes needs.
type OutcomeStore interface {
	UnassessedDecisions(ctx context.Context, olderThan time.Time, backtest bool) ([]journal.DecisionReport, error)
	UpdateOutcome(ctx context.Context, id int64, pnl, benchmarkDelta decimal.Decimal, at time.Time) error
}

// Item is a read-only projection of a past decision.
type Item struct {
	DecisionID      int64     `json:"decision_id"`
	Ticker          string    `json:"ticker"`
	Action          string    `json:"action"`
	Confidence      float64   `json:"confidence"`
	Snippet         string    `json:"reasoning"`
	OutcomePnL      *float64  `json:"outcome_pnl"`
	OutcomeAssessed bool      `json:"outcome_assessed"`
	DecisionDate    time.Time `json:"date"`
	Strategy        string    `json:"retrieval_strategy"`
}

// Query identifies the candidate memory is retrieved for.
type Query struct {
	InstrumentID  int64
	Ticker        string
	Sector        string
	RSI           *float64
	MACDDirection string
}

// Retriever merges the three lookup strategies.
type Retriever struct {
	cfg      Config
	backtest bool
	logger   zerolog.Logger
}

// NewRetriever creates a Retriever. backtest selects which decision history
// is consulted.
func NewRetriever(cfg Config, backtest bool) *Retriever {
	return &Retriever{cfg: cfg, backtest: backtest, logger: log.Logger}
}

// WithLogger sets the logger.
func (r *Retriever) WithLogger(l zerolog.Logger) *Retriever {
	r.logger = l
	return r
}

// Retrieve runs the ticker, sector and similar-signal lookups in that order,
// keeps the first occurrence of each decision and caps the result. A failing
// strategy is logged and contributes nothing.
func (r *Retriever) Retrieve(ctx context.Context, src DecisionSource, q Query) []Item {
	var items []Item
	seen := make(map[int64]bool)
	add := func(reports []journal.DecisionReport, strategy string) {
		for _, d := range reports {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			items = append(items, toItem(d, strategy))
		}
	}

	reports, err := src.DecisionsByInstrument(ctx, q.InstrumentID, r.backtest, r.cfg.ExactTickerMax)
	if err != nil {
		r.logger.Warn().Err(err).Str("ticker", q.Ticker).Msg("memory_ticker_retrieval_failed")
	} else {
		add(reports, StrategyTicker)
	}

	if q.Sector != "" {
		reports, err := src.DecisionsBySector(ctx, q.Sector, q.InstrumentID, r.backtest, r.cfg.SectorMax)
		if err != nil {
			r.logger.Warn().Err(err).Str("sector", q.Sector).Msg("memory_sector_retrieval_failed")
		} else {
			add(reports, StrategySector)
		}
	}

	if q.RSI != nil {
		lo, hi := *q.RSI-r.cfg.RSITolerance, *q.RSI+r.cfg.RSITolerance
		reports, err := src.DecisionsBySimilarSignals(ctx, lo, hi, q.MACDDirection, r.backtest, r.cfg.SimilarSignalsMax)
		if err != nil {
			r.logger.Warn().Err(err).Str("ticker", q.Ticker).Msg("memory_signals_retrieval_failed")
		} else {
			add(reports, StrategySignals)
		}
	}

	if limit := r.cfg.MaxItemsPerCandidate; limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func toItem(d journal.DecisionReport, strategy string) Item {
	it := Item{
		DecisionID:      d.ID,
		Ticker:          d.Ticker,
		Action:          d.Action,
		Confidence:      d.Confidence,
		Snippet:         Snippet(d.Reasoning),
		OutcomeAssessed: d.OutcomeAssessedAt != nil,
		DecisionDate:    d.CreatedAt,
		Strategy:        strategy,
	}
	if d.OutcomePnL.Valid {
		v := d.OutcomePnL.Decimal.InexactFloat64()
		it.OutcomePnL = &v
	}
	return it
}

// Snippet caps reasoning at 200 characters.
func Snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen])
}

// PromptItem is the prompt-facing form of an Item.
type PromptItem struct {
	Ticker          string   `json:"ticker"`
	Action          string   `json:"action"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	OutcomePnL      *float64 `json:"outcome_pnl"`
	OutcomeAssessed bool     `json:"outcome_assessed"`
	Date            string   `json:"date"`
	Strategy        string   `json:"retrieval_strategy"`
}

// FormatForPrompt projects items for the reasoning package.
func FormatForPrompt(items []Item) []PromptItem {
	out := make([]PromptItem, len(items))
	for i, it := range items {
		out[i] = PromptItem{
			Ticker:          it.Ticker,
			Action:          it.Action,
			Confidence:      it.Confidence,
			Reasoning:       it.Snippet,
			OutcomePnL:      it.OutcomePnL,
			OutcomeAssessed: it.OutcomeAssessed,
			Date:            it.DecisionDate.UTC().Format(time.RFC3339),
			Strategy:        it.Strategy,
		}
	}
	return out
}

// AssessOutcomes stamps an outcome on every unassessed decision older than
// the lookback window and returns how many were assessed. The realized P&L
// is recorded as zero until a current-price lookup is wired in.
func (r *Retriever) AssessOutcomes(ctx context.Context, st OutcomeStore, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -r.cfg.OutcomeLookbackDays)
	reports, err := st.UnassessedDecisions(ctx, cutoff, r.backtest)
	if err != nil {
		r.logger.Error().Err(err).Msg("outcome_assessment_fetch_failed")
		return 0, err
	}

	assessed := 0
	for _, d := range reports {
		if entryClose(d.TechnicalSummary) <= 0 {
			continue
		}
		// TODO: compare against the latest stored close once prices are
		// refreshed for every decision's instrument.
		if err := st.UpdateOutcome(ctx, d.ID, decimal.Zero, decimal.Zero, now); err != nil {
			r.logger.Warn().Err(err).Int64("report_id", d.ID).Msg("outcome_assessment_failed")
			continue
		}
		assessed++
	}
	r.logger.Info().Int("assessed", assessed).Int("pending", len(reports)).Msg("outcomes_assessed")
	return assessed, nil
}

func entryClose(technical string) float64 {
	var t struct {
		LatestClose *float64 `json:"latest_close"`
	}
	if err := json.Unmarshal([]byte(technical), &t); err != nil || t.LatestClose == nil {
		return 0
	}
	return *t.LatestClose
}
