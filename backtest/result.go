// Package backtest replays history through the decision pipeline one
// trading day at a time and scores the resulting equity curve.
package backtest

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the state of a backtest.
type Status string

// Backtest statuses.
const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Config describes one backtest.
type Config struct {
	Name           string
	Start          time.Time
	End            time.Time
	InitialCapital decimal.Decimal
}

// EquityPoint is the portfolio value at the end of one simulated day.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Metrics summarize a finished backtest. Percentages and the Sharpe ratio
// are rounded to two places.
type Metrics struct {
	TotalReturnPct      float64 `json:"total_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	TotalTrades         int     `json:"total_trades"`
	WinRate             float64 `json:"win_rate"`
}

// Snapshot is a point-in-time copy of a Result.
type Snapshot struct {
	ID          string        `json:"id"`
	Config      Config        `json:"config"`
	Status      Status        `json:"status"`
	CurrentDay  int           `json:"current_day"`
	TotalDays   int           `json:"total_days"`
	Equity      []EquityPoint `json:"equity_curve"`
	Metrics     *Metrics      `json:"metrics,omitempty"`
	Errors      []string      `json:"errors"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Progress is the fraction of days processed.
func (s Snapshot) Progress() float64 {
	if s.TotalDays == 0 {
		return 0
	}
	return float64(s.CurrentDay) / float64(s.TotalDays)
}

// FinalValue is the last equity point, if any.
func (s Snapshot) FinalValue() (float64, bool) {
	if len(s.Equity) == 0 {
		return 0, false
	}
	return s.Equity[len(s.Equity)-1].Value, true
}

// Result is the live record of one backtest. The engine is its only
// writer; any goroutine may read it through Snapshot.
type Result struct {
	mu   sync.RWMutex
	s    Snapshot
	done chan struct{}
}

func newResult(id string, cfg Config, now time.Time) *Result {
	return &Result{
		s: Snapshot{
			ID:        id,
			Config:    cfg,
			Status:    StatusRunning,
			StartedAt: now,
		},
		done: make(chan struct{}),
	}
}

// ID returns the backtest run ID.
func (r *Result) ID() string { return r.s.ID }

// Snapshot returns a copy of the current state.
func (r *Result) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.s
	s.Equity = append([]EquityPoint(nil), r.s.Equity...)
	s.Errors = append([]string(nil), r.s.Errors...)
	if r.s.Metrics != nil {
		m := *r.s.Metrics
		s.Metrics = &m
	}
	if r.s.CompletedAt != nil {
		t := *r.s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// Done is closed when the backtest has finished.
func (r *Result) Done() <-chan struct{} { return r.done }

// Wait blocks until the backtest finishes and returns its final state.
func (r *Result) Wait() Snapshot {
	<-r.done
	return r.Snapshot()
}

func (r *Result) update(fn func(s *Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.s)
}

func (r *Result) fail(msg string) {
	r.update(func(s *Snapshot) {
		s.Status = StatusFailed
		s.Errors = append(s.Errors, msg)
	})
}
