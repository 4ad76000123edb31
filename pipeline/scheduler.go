package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Runner is what the Scheduler triggers.
type Runner interface {
	Run(ctx context.Context) (RunResult, error)
}

// Scheduler triggers a run once a day at a fixed UTC time.
type Scheduler struct {
	runner Runner
	hour   int
	minute int

	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	logger zerolog.Logger
}

// NewScheduler creates a Scheduler that fires daily at hour:minute UTC.
func NewScheduler(r Runner, hour, minute int) *Scheduler {
	return &Scheduler{
		runner: r,
		hour:   hour,
		minute: minute,
		now:    func() time.Time { return time.Now().UTC() },
		after:  time.After,
		logger: log.Logger,
	}
}

// WithLogger sets the logger.
func (s *Scheduler) WithLogger(l zerolog.Logger) *Scheduler {
	s.logger = l
	return s
}

// NextRun returns the first hour:minute UTC strictly after now.
func NextRun(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start blocks, triggering runs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().Int("hour", s.hour).Int("minute", s.minute).Msg("scheduler_started")
	defer s.logger.Info().Msg("scheduler_stopped")

	for {
		next := NextRun(s.now(), s.hour, s.minute)
		s.logger.Debug().Time("next_run", next).Msg("scheduler_waiting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(s.now())):
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	res, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn().Msg("pipeline_already_running_skipping_schedule")
	case err != nil:
		s.logger.Error().Err(err).Msg("scheduled_pipeline_failed")
	default:
		s.logger.Info().Str("pipeline_run_id", res.ID.String()).Str("status", string(res.Status)).Msg("scheduled_pipeline_finished")
	}
}
