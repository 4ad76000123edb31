package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const decisionColumns = `d.id, d.pipeline_run_id, d.instrument_id, i.ticker, i.sector, d.action, d.confidence,
	d.reasoning, d.technical_summary, d.news_summary, d.memory_references, d.portfolio_state,
	d.signal_rsi, d.signal_macd_direction, d.outcome_pnl, d.outcome_benchmark_delta,
	d.outcome_assessed_at, d.is_backtest, d.backtest_run_id, d.created_at`

const decisionFrom = ` FROM decision_reports d JOIN instruments i ON i.id = d.instrument_id`

// Best realized outcomes first, unassessed last.
const byOutcome = ` ORDER BY (d.outcome_pnl IS NULL), d.outcome_pnl DESC, d.created_at DESC, d.id DESC`

// CreateDecision inserts a report and sets its ID.
func (q querier) CreateDecision(ctx context.Context, d *DecisionReport) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	id, err := q.insert(ctx, `
		INSERT INTO decision_reports (pipeline_run_id, instrument_id, action, confidence, reasoning,
			technical_summary, news_summary, memory_references, portfolio_state,
			signal_rsi, signal_macd_direction, is_backtest, backtest_run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.PipelineRunID, d.InstrumentID, d.Action, d.Confidence, d.Reasoning,
		d.TechnicalSummary, d.NewsSummary, d.MemoryReferences, d.PortfolioState,
		d.SignalRSI, d.SignalMACDDirection, d.IsBacktest, d.BacktestRunID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create decision for instrument %d: %w", d.InstrumentID, err)
	}
	d.ID = id
	return nil
}

// CreateContextItems attaches evidence to a decision.
func (q querier) CreateContextItems(ctx context.Context, decisionID int64, items []ContextItem) error {
	now := time.Now().UTC()
	for i := range items {
		it := &items[i]
		it.DecisionReportID = decisionID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		id, err := q.insert(ctx, `
			INSERT INTO decision_context_items (decision_report_id, context_type, source, content, relevance_score, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			decisionID, it.ContextType, it.Source, it.Content, it.RelevanceScore, it.CreatedAt)
		if err != nil {
			return fmt.Errorf("create context item %s for decision %d: %w", it.Source, decisionID, err)
		}
		it.ID = id
	}
	return nil
}

// ContextItems lists the evidence of a decision.
func (q querier) ContextItems(ctx context.Context, decisionID int64) ([]ContextItem, error) {
	var out []ContextItem
	err := q.sel(ctx, &out, `
		SELECT id, decision_report_id, context_type, source, content, relevance_score, created_at
		FROM decision_context_items WHERE decision_report_id = ? ORDER BY id`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("context items %d: %w", decisionID, err)
	}
	return out, nil
}

// Decision returns one report.
func (q querier) Decision(ctx context.Context, id int64) (DecisionReport, error) {
	var d DecisionReport
	if err := q.get(ctx, &d, `SELECT `+decisionColumns+decisionFrom+` WHERE d.id = ?`, id); err != nil {
		return DecisionReport{}, fmt.Errorf("decision %d: %w", id, err)
	}
	return d, nil
}

// DecisionsByInstrument returns the most recent decisions for an instrument.
func (q querier) DecisionsByInstrument(ctx context.Context, instrumentID int64, backtest bool, limit int) ([]DecisionReport, error) {
	var out []DecisionReport
	err := q.sel(ctx, &out, `SELECT `+decisionColumns+decisionFrom+`
		WHERE d.instrument_id = ? AND d.is_backtest = ?
		ORDER BY d.created_at DESC, d.id DESC LIMIT ?`, instrumentID, backtest, limit)
	if err != nil {
		return nil, fmt.Errorf("decisions by instrument %d: %w", instrumentID, err)
	}
	return out, nil
}

// DecisionsBySector returns the best-performing decisions in a sector,
// excluding one instrument.
func (q querier) DecisionsBySector(ctx context.Context, sector string, excludeID int64, backtest bool, limit int) ([]DecisionReport, error) {
	var out []DecisionReport
	err := q.sel(ctx, &out, `SELECT `+decisionColumns+decisionFrom+`
		WHERE i.sector = ? AND d.instrument_id <> ? AND d.is_backtest = ?`+byOutcome+` LIMIT ?`,
		sector, excludeID, backtest, limit)
	if err != nil {
		return nil, fmt.Errorf("decisions by sector %q: %w", sector, err)
	}
	return out, nil
}

// DecisionsBySimilarSignals returns the best-performing decisions taken at
// an RSI within [rsiLow, rsiHigh] and, when macdDirection is set, the same
// MACD direction.
func (q querier) DecisionsBySimilarSignals(ctx context.Context, rsiLow, rsiHigh float64, macdDirection string, backtest bool, limit int) ([]DecisionReport, error) {
	query := `SELECT ` + decisionColumns + decisionFrom + `
		WHERE d.signal_rsi IS NOT NULL AND d.signal_rsi >= ? AND d.signal_rsi <= ? AND d.is_backtest = ?`
	args := []any{rsiLow, rsiHigh, backtest}
	if macdDirection != "" {
		query += ` AND d.signal_macd_direction = ?`
		args = append(args, macdDirection)
	}
	query += byOutcome + ` LIMIT ?`
	args = append(args, limit)

	var out []DecisionReport
	if err := q.sel(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("decisions by signals: %w", err)
	}
	return out, nil
}

// UnassessedDecisions returns decisions created at or before olderThan that
// have no recorded outcome, oldest first.
func (q querier) UnassessedDecisions(ctx context.Context, olderThan time.Time, backtest bool) ([]DecisionReport, error) {
	var out []DecisionReport
	err := q.sel(ctx, &out, `SELECT `+decisionColumns+decisionFrom+`
		WHERE d.outcome_assessed_at IS NULL AND d.is_backtest = ? AND d.created_at <= ?
		ORDER BY d.created_at, d.id`, backtest, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("unassessed decisions: %w", err)
	}
	return out, nil
}

// UpdateOutcome records the realized outcome of a decision.
func (q querier) UpdateOutcome(ctx context.Context, id int64, pnl, benchmarkDelta decimal.Decimal, at time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE decision_reports SET outcome_pnl = ?, outcome_benchmark_delta = ?, outcome_assessed_at = ?
		WHERE id = ?`, pnl, benchmarkDelta, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update outcome %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("decision %d: %w", id, ErrNotFound)
	}
	return nil
}

// DecisionFilter narrows ListDecisions.
type DecisionFilter struct {
	Ticker          string
	Action          string
	MinConfidence   float64
	Since           time.Time
	Until           time.Time
	IncludeBacktest bool
	Limit           int
	Offset          int
}

// ListDecisions returns matching reports, newest first.
func (q querier) ListDecisions(ctx context.Context, f DecisionFilter) ([]DecisionReport, error) {
	var where []string
	var args []any
	if f.Ticker != "" {
		where = append(where, "i.ticker = ?")
		args = append(args, strings.ToUpper(f.Ticker))
	}
	if f.Action != "" {
		where = append(where, "d.action = ?")
		args = append(args, strings.ToUpper(f.Action))
	}
	if f.MinConfidence > 0 {
		where = append(where, "d.confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if !f.Since.IsZero() {
		where = append(where, "d.created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		where = append(where, "d.created_at <= ?")
		args = append(args, f.Until.UTC())
	}
	if !f.IncludeBacktest {
		where = append(where, "d.is_backtest = ?")
		args = append(args, false)
	}

	query := `SELECT ` + decisionColumns + decisionFrom
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY d.created_at DESC, d.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	var out []DecisionReport
	if err := q.sel(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return out, nil
}
