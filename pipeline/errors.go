package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned when Run is called while a run is active.
	ErrRunInProgress = errors.New("pipeline run already in progress")

	// ErrNoMarketData means step 1 produced nothing to analyze.
	ErrNoMarketData = errors.New("No market data fetched")
)

// CriticalError aborts a run. Everything else is recorded and the run
// continues.
type CriticalError struct {
	Step string
	Err  error
}

func (e *CriticalError) Error() string { return e.Err.Error() }

func (e *CriticalError) Unwrap() error { return e.Err }

func critical(step string, err error) error {
	return &CriticalError{Step: step, Err: err}
}

func criticalf(step, format string, args ...any) error {
	return &CriticalError{Step: step, Err: fmt.Errorf(format, args...)}
}

// IsCritical reports whether err aborts a run.
func IsCritical(err error) bool {
	var ce *CriticalError
	return errors.As(err, &ce)
}
