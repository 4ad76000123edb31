// Package pipeline runs the daily decision workflow: fetch data, compute
// indicators, rank candidates, gather news and memory, ask the reasoning
// model, validate risk, persist decision reports and execute trades.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/broker"
	"github.com/rustyeddy/tradeagent/indicators"
	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/marketdata"
	"github.com/rustyeddy/tradeagent/memory"
	"github.com/rustyeddy/tradeagent/news"
	"github.com/rustyeddy/tradeagent/reasoning"
	"github.com/rustyeddy/tradeagent/risk"
	"github.com/rustyeddy/tradeagent/screening"
)

// Status is the state of a run.
type Status string

// Run statuses.
const (
	StatusIdle    Status = "IDLE"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL_FAILURE"
	StatusFailed  Status = "FAILED"
)

// RunResult summarizes one run.
type RunResult struct {
	ID                  uuid.UUID
	Status              Status
	StartedAt           time.Time
	CompletedAt         time.Time
	InstrumentsAnalyzed int
	CandidatesScreened  int
	TradesApproved      int
	TradesExecuted      int
	Errors              []string
}

// Deps are the external services a run talks to. Broker may be nil, in
// which case approved trades are reported but not executed.
type Deps struct {
	Market   marketdata.Provider
	Analyzer reasoning.Analyzer
	News     news.Source
	Broker   broker.Broker
}

// FillPricer is implemented by simulated brokers that fill at a preset
// price.
type FillPricer interface {
	SetFillPrices(prices map[string]decimal.Decimal)
}

// HoldingsSyncer is implemented by simulated brokers that can take their
// cash and positions from the journal.
type HoldingsSyncer interface {
	SetHoldings(cash decimal.Decimal, holdings []broker.Holding)
}

// Options tune a Service.
type Options struct {
	Indicators     indicators.Params
	Screening      screening.Config
	Risk           risk.Policy
	Memory         memory.Config
	InitialCapital decimal.Decimal
	Currency       string
	LookbackDays   int
	NewsSectors    []string
	NewsTopicLimit int
	NewsTimeout    time.Duration

	// PaperFills sets a FillPricer broker's prices to the latest closes
	// and a HoldingsSyncer broker's positions to the journal's before
	// executing. Backtests leave it off and set next-day opens.
	PaperFills bool

	// Backtest tags every report, trade and run as simulated.
	Backtest      bool
	BacktestRunID string

	Now     func() time.Time
	Logger  *zerolog.Logger
	Metrics *Metrics
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		Indicators:     indicators.DefaultParams(),
		Screening:      screening.DefaultConfig(),
		Risk:           risk.DefaultPolicy(),
		Memory:         memory.DefaultConfig(),
		InitialCapital: decimal.NewFromInt(50000),
		Currency:       "USD",
		LookbackDays:   365,
		NewsTopicLimit: 5,
		NewsTimeout:    2 * time.Minute,
	}
}

// Service owns the run gate. At most one run is active at a time.
type Service struct {
	store *journal.Store
	deps  Deps
	opts  Options

	ranker    *screening.Ranker
	validator *risk.Validator
	retriever *memory.Retriever
	logger    zerolog.Logger

	running atomic.Bool

	mu     sync.RWMutex
	last   *RunResult
	status Status
}

// New creates a Service.
func New(store *journal.Store, deps Deps, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 365
	}
	if opts.NewsTopicLimit <= 0 {
		opts.NewsTopicLimit = 5
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if deps.News == nil {
		deps.News = news.Static{}
	}

	return &Service{
		store:     store,
		deps:      deps,
		opts:      opts,
		ranker:    screening.New(opts.Screening).WithLogger(logger),
		validator: risk.NewValidator(opts.Risk).WithLogger(logger),
		retriever: memory.NewRetriever(opts.Memory, opts.Backtest).WithLogger(logger),
		logger:    logger,
		status:    StatusIdle,
	}
}

// Running reports whether a run is active.
func (s *Service) Running() bool { return s.running.Load() }

// Status returns RUNNING during a run, otherwise the last terminal status.
func (s *Service) Status() Status {
	if s.running.Load() {
		return StatusRunning
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastResult returns the most recent completed run, if any.
func (s *Service) LastResult() (RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return RunResult{}, false
	}
	return *s.last, true
}

// Run executes one full run. It returns ErrRunInProgress without waiting
// if another run is active; every other outcome, including a failed run,
// is reported through the result.
func (s *Service) Run(ctx context.Context) (RunResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RunResult{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	res := s.execute(ctx)

	s.record(res)
	s.opts.Metrics.countRun(res.Status)

	s.mu.Lock()
	s.last = &res
	s.status = res.Status
	s.mu.Unlock()
	return res, nil
}

func (s *Service) execute(ctx context.Context) RunResult {
	r := &run{
		svc: s,
		res: RunResult{
			ID:        uuid.New(),
			Status:    StatusRunning,
			StartedAt: s.opts.Now(),
		},
	}
	r.log = s.logger.With().Str("pipeline_run_id", r.res.ID.String()).Logger()
	r.log.Info().Bool("backtest", s.opts.Backtest).Msg("pipeline_started")

	err := s.transact(ctx, r)
	switch {
	case err == nil && len(r.res.Errors) > 0:
		r.res.Status = StatusPartial
	case err == nil:
		r.res.Status = StatusSuccess
	case IsCritical(err):
		r.res.Status = StatusFailed
		r.res.Errors = append(r.res.Errors, err.Error())
		s.opts.Metrics.countError("critical")
		r.log.Error().Err(err).Msg("pipeline_critical_failure")
	default:
		r.res.Status = StatusFailed
		r.res.Errors = append(r.res.Errors, "Unexpected error: "+err.Error())
		s.opts.Metrics.countError("unexpected")
		r.log.Error().Err(err).Msg("pipeline_unexpected_failure")
	}

	r.res.CompletedAt = s.opts.Now()
	r.log.Info().
		Str("status", string(r.res.Status)).
		Int("instruments_analyzed", r.res.InstrumentsAnalyzed).
		Int("candidates_screened", r.res.CandidatesScreened).
		Int("trades_approved", r.res.TradesApproved).
		Int("trades_executed", r.res.TradesExecuted).
		Strs("errors", r.res.Errors).
		Msg("pipeline_completed")
	return r.res
}

// transact runs every step inside one transaction and commits only when no
// step failed critically.
func (s *Service) transact(ctx context.Context, r *run) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.steps(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) record(res RunResult) {
	errs, _ := json.Marshal(res.Errors)
	if res.Errors == nil {
		errs = []byte("[]")
	}
	done := res.CompletedAt
	row := journal.PipelineRun{
		ID:                  res.ID.String(),
		Status:              string(res.Status),
		StartedAt:           res.StartedAt,
		FinishedAt:          &done,
		InstrumentsAnalyzed: res.InstrumentsAnalyzed,
		CandidatesScreened:  res.CandidatesScreened,
		TradesApproved:      res.TradesApproved,
		TradesExecuted:      res.TradesExecuted,
		Errors:              string(errs),
		IsBacktest:          s.opts.Backtest,
	}
	// A cancelled run is still recorded.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.RecordPipelineRun(ctx, row); err != nil {
		s.logger.Error().Err(err).Str("pipeline_run_id", row.ID).Msg("pipeline_run_record_failed")
	}
}
