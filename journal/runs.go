package journal

import (
	"context"
	"fmt"
	"time"
)

// RecordPipelineRun inserts or updates a run summary.
func (q querier) RecordPipelineRun(ctx context.Context, r PipelineRun) error {
	if r.Errors == "" {
		r.Errors = "[]"
	}
	_, err := q.exec(ctx, `
		INSERT INTO pipeline_runs (id, status, started_at, finished_at, instruments_analyzed,
			candidates_screened, trades_approved, trades_executed, errors, is_backtest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, finished_at = excluded.finished_at,
			instruments_analyzed = excluded.instruments_analyzed,
			candidates_screened = excluded.candidates_screened,
			trades_approved = excluded.trades_approved,
			trades_executed = excluded.trades_executed,
			errors = excluded.errors`,
		r.ID, r.Status, r.StartedAt.UTC(), utcPtr(r.FinishedAt), r.InstrumentsAnalyzed,
		r.CandidatesScreened, r.TradesApproved, r.TradesExecuted, r.Errors, r.IsBacktest)
	if err != nil {
		return fmt.Errorf("record pipeline run %s: %w", r.ID, err)
	}
	return nil
}

// GetPipelineRun returns one run summary.
func (q querier) GetPipelineRun(ctx context.Context, id string) (PipelineRun, error) {
	var r PipelineRun
	err := q.get(ctx, &r, `
		SELECT id, status, started_at, finished_at, instruments_analyzed, candidates_screened,
			trades_approved, trades_executed, errors, is_backtest
		FROM pipeline_runs WHERE id = ?`, id)
	if err != nil {
		return PipelineRun{}, fmt.Errorf("pipeline run %s: %w", id, err)
	}
	return r, nil
}

const backtestColumns = `id, name, start_date, end_date, initial_capital, final_value, total_return_pct,
	annualized_return_pct, max_drawdown_pct, sharpe_ratio, total_trades, win_rate, status, errors,
	created_at, completed_at`

// RecordBacktestRun inserts or updates a backtest summary.
func (q querier) RecordBacktestRun(ctx context.Context, r BacktestRun) error {
	if r.Errors == "" {
		r.Errors = "[]"
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := q.exec(ctx, `
		INSERT INTO backtest_runs (`+backtestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			final_value = excluded.final_value, total_return_pct = excluded.total_return_pct,
			annualized_return_pct = excluded.annualized_return_pct,
			max_drawdown_pct = excluded.max_drawdown_pct, sharpe_ratio = excluded.sharpe_ratio,
			total_trades = excluded.total_trades, win_rate = excluded.win_rate,
			status = excluded.status, errors = excluded.errors, completed_at = excluded.completed_at`,
		r.ID, r.Name, r.StartDate, r.EndDate, r.InitialCapital, r.FinalValue, r.TotalReturnPct,
		r.AnnualizedReturnPct, r.MaxDrawdownPct, r.SharpeRatio, r.TotalTrades, r.WinRate, r.Status, r.Errors,
		r.CreatedAt.UTC(), utcPtr(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("record backtest run %s: %w", r.ID, err)
	}
	return nil
}

// GetBacktestRun returns one backtest summary.
func (q querier) GetBacktestRun(ctx context.Context, id string) (BacktestRun, error) {
	var r BacktestRun
	if err := q.get(ctx, &r, `SELECT `+backtestColumns+` FROM backtest_runs WHERE id = ?`, id); err != nil {
		return BacktestRun{}, fmt.Errorf("backtest run %s: %w", id, err)
	}
	return r, nil
}

// ListBacktestRuns returns backtests, newest first.
func (q querier) ListBacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []BacktestRun
	if err := q.sel(ctx, &out, `SELECT `+backtestColumns+` FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
