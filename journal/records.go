// Package journal persists instruments, prices, decision reports, positions,
// trades and run summaries through sqlx over SQLite or PostgreSQL.
package journal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a tradable stock or ETF.
type Instrument struct {
	ID       int64     `db:"id" json:"id"`
	Ticker   string    `db:"ticker" json:"ticker"`
	Name     string    `db:"name" json:"name"`
	Exchange string    `db:"exchange" json:"exchange"`
	Currency string    `db:"currency" json:"currency"`
	Sector   string    `db:"sector" json:"sector"`
	Industry string    `db:"industry" json:"industry"`
	IsActive bool      `db:"is_active" json:"is_active"`
	AddedAt  time.Time `db:"added_at" json:"added_at"`
}

// DecisionReport is the audit record of one recommendation, approved or
// rejected. JSON-valued columns are stored as text.
type DecisionReport struct {
	ID                    int64               `db:"id"`
	PipelineRunID         string              `db:"pipeline_run_id"`
	InstrumentID          int64               `db:"instrument_id"`
	Ticker                string              `db:"ticker"`
	Sector                string              `db:"sector"`
	Action                string              `db:"action"`
	Confidence            float64             `db:"confidence"`
	Reasoning             string              `db:"reasoning"`
	TechnicalSummary      string              `db:"technical_summary"`
	NewsSummary           string              `db:"news_summary"`
	MemoryReferences      string              `db:"memory_references"`
	PortfolioState        string              `db:"portfolio_state"`
	SignalRSI             *float64            `db:"signal_rsi"`
	SignalMACDDirection   string              `db:"signal_macd_direction"`
	OutcomePnL            decimal.NullDecimal `db:"outcome_pnl"`
	OutcomeBenchmarkDelta decimal.NullDecimal `db:"outcome_benchmark_delta"`
	OutcomeAssessedAt     *time.Time          `db:"outcome_assessed_at"`
	IsBacktest            bool                `db:"is_backtest"`
	BacktestRunID         *string             `db:"backtest_run_id"`
	CreatedAt             time.Time           `db:"created_at"`
}

// Context item types.
const (
	ContextTechnical   = "technical"
	ContextFundamental = "fundamental"
	ContextNews        = "news"
	ContextMemory      = "memory"
)

// ContextItem is one piece of evidence attached to a decision report.
type ContextItem struct {
	ID               int64     `db:"id"`
	DecisionReportID int64     `db:"decision_report_id"`
	ContextType      string    `db:"context_type"`
	Source           string    `db:"source"`
	Content          string    `db:"content"`
	RelevanceScore   *float64  `db:"relevance_score"`
	CreatedAt        time.Time `db:"created_at"`
}

// Position statuses.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Position is an entry in the local position ledger.
type Position struct {
	ID           int64           `db:"id"`
	InstrumentID int64           `db:"instrument_id"`
	Ticker       string          `db:"ticker"`
	Quantity     decimal.Decimal `db:"quantity"`
	AvgPrice     decimal.Decimal `db:"avg_price"`
	Currency     string          `db:"currency"`
	Status       string          `db:"status"`
	OpenedAt     time.Time       `db:"opened_at"`
	ClosedAt     *time.Time      `db:"closed_at"`
}

// Trade statuses.
const (
	TradeFilled = "FILLED"
	TradeFailed = "FAILED"
)

// TradeRecord is one order sent to a broker and its outcome.
type TradeRecord struct {
	ID               int64           `db:"id"`
	PositionID       *int64          `db:"position_id"`
	DecisionReportID *int64          `db:"decision_report_id"`
	InstrumentID     int64           `db:"instrument_id"`
	Ticker           string          `db:"ticker"`
	Side             string          `db:"side"`
	Quantity         decimal.Decimal `db:"quantity"`
	Price            decimal.Decimal `db:"price"`
	TotalValue       decimal.Decimal `db:"total_value"`
	Currency         string          `db:"currency"`
	BrokerOrderID    string          `db:"broker_order_id"`
	Status           string          `db:"status"`
	IsBacktest       bool            `db:"is_backtest"`
	BacktestRunID    *string         `db:"backtest_run_id"`
	ExecutedAt       time.Time       `db:"executed_at"`
}

// RoundTrip pairs a filled sell with the average cost of its position.
type RoundTrip struct {
	Ticker    string          `db:"ticker"`
	Quantity  decimal.Decimal `db:"quantity"`
	EntryCost decimal.Decimal `db:"avg_price"`
	ExitPrice decimal.Decimal `db:"price"`
}

// Win reports whether the exit was above the average cost.
func (r RoundTrip) Win() bool {
	return r.ExitPrice.GreaterThan(r.EntryCost)
}

// PortfolioSnapshot is the end-of-day portfolio valuation.
type PortfolioSnapshot struct {
	ID               int64           `db:"id"`
	Date             time.Time       `db:"date"`
	TotalValue       decimal.Decimal `db:"total_value"`
	Cash             decimal.Decimal `db:"cash"`
	Invested         decimal.Decimal `db:"invested"`
	DailyPnL         decimal.Decimal `db:"daily_pnl"`
	CumulativePnLPct float64         `db:"cumulative_pnl_pct"`
	CreatedAt        time.Time       `db:"created_at"`
}

// PositionSnapshot is one position inside a PortfolioSnapshot.
type PositionSnapshot struct {
	ID           int64           `db:"id"`
	SnapshotID   int64           `db:"snapshot_id"`
	InstrumentID int64           `db:"instrument_id"`
	Quantity     decimal.Decimal `db:"quantity"`
	Price        decimal.Decimal `db:"price"`
	MarketValue  decimal.Decimal `db:"market_value"`
	WeightPct    float64         `db:"weight_pct"`
}

// PipelineRun is the persisted summary of one orchestrator run.
type PipelineRun struct {
	ID                  string     `db:"id"`
	Status              string     `db:"status"`
	StartedAt           time.Time  `db:"started_at"`
	FinishedAt          *time.Time `db:"finished_at"`
	InstrumentsAnalyzed int        `db:"instruments_analyzed"`
	CandidatesScreened  int        `db:"candidates_screened"`
	TradesApproved      int        `db:"trades_approved"`
	TradesExecuted      int        `db:"trades_executed"`
	Errors              string     `db:"errors"`
	IsBacktest          bool       `db:"is_backtest"`
}

// BacktestRun is the persisted summary of one backtest.
type BacktestRun struct {
	ID                  string              `db:"id"`
	Name                string              `db:"name"`
	StartDate           time.Time           `db:"start_date"`
	EndDate             time.Time           `db:"end_date"`
	InitialCapital      decimal.Decimal     `db:"initial_capital"`
	FinalValue          decimal.NullDecimal `db:"final_value"`
	TotalReturnPct      float64             `db:"total_return_pct"`
	AnnualizedReturnPct float64             `db:"annualized_return_pct"`
	MaxDrawdownPct      float64             `db:"max_drawdown_pct"`
	SharpeRatio         float64             `db:"sharpe_ratio"`
	TotalTrades         int                 `db:"total_trades"`
	WinRate             float64             `db:"win_rate"`
	Status              string              `db:"status"`
	Errors              string              `db:"errors"`
	CreatedAt           time.Time           `db:"created_at"`
	CompletedAt         *time.Time          `db:"completed_at"`
}
