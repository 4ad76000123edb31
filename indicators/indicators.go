// Package indicators computes the technical indicator snapshot the candidate
// ranker reads. Every indicator is a streaming calculation fed one daily bar
// at a time, so the same code serves live runs and day-by-day replays.
package indicators

import "github.com/rustyeddy/tradeagent/market"

// Indicator computes a single streaming value from daily bars.
type Indicator interface {
	// Name returns a stable identifier like "EMA(12)" or "RSI(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar)

	// Ready reports whether Value() is meaningful.
	Ready() bool
}

// ValueF64 is implemented by indicators with a single float output.
type ValueF64 interface {
	// Value returns the current value, or 0 when !Ready().
	Value() float64
}

// Source picks the input series of an indicator out of a bar.
type Source func(b market.Bar) float64

// Close reads the closing price.
func Close(b market.Bar) float64 { return b.Close.InexactFloat64() }

// Volume reads the traded volume.
func Volume(b market.Bar) float64 { return float64(b.Volume) }
