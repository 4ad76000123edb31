package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradeagent/market"
)

// MACD directions.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// MACD is the streaming Moving Average Convergence Divergence indicator.
// The signal line is an EMA of the MACD line, started once the slow EMA
// is ready.
type MACD struct {
	fast, slow, signalPeriod int
	fastEMA, slowEMA         *ExponentialMA
	signal                   *ExponentialMA
	line                     float64
}

// NewMACD creates a MACD(fast, slow, signal).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:         fast,
		slow:         slow,
		signalPeriod: signal,
		fastEMA:      NewEMA(fast),
		slowEMA:      NewEMA(slow),
		signal:       NewEMA(signal),
	}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD(%d,%d,%d)", m.fast, m.slow, m.signalPeriod)
}

func (m *MACD) Warmup() int {
	return m.slow + m.signalPeriod - 1
}

func (m *MACD) Reset() {
	m.fastEMA.Reset()
	m.slowEMA.Reset()
	m.signal.Reset()
	m.line = 0
}

func (m *MACD) Update(b market.Bar) {
	m.fastEMA.Update(b)
	m.slowEMA.Update(b)
	if !m.slowEMA.Ready() {
		return
	}
	m.line = m.fastEMA.ema - m.slowEMA.ema
	m.signal.push(m.line)
}

func (m *MACD) Ready() bool {
	return m.slowEMA.Ready() && m.signal.Ready()
}

// Line returns the MACD line.
func (m *MACD) Line() float64 {
	if !m.Ready() {
		return 0
	}
	return m.line
}

// Signal returns the signal line.
func (m *MACD) Signal() float64 {
	return m.signal.Value()
}

// Histogram returns line minus signal.
func (m *MACD) Histogram() float64 {
	if !m.Ready() {
		return 0
	}
	return m.line - m.signal.Value()
}

// Value is the histogram.
func (m *MACD) Value() float64 {
	return m.Histogram()
}

// Direction classifies a MACD reading.
func Direction(line, signal, histogram float64) string {
	switch {
	case histogram > 0 && line > signal:
		return Bullish
	case histogram < 0 && line < signal:
		return Bearish
	default:
		return Neutral
	}
}
