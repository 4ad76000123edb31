package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradeagent/market"
)

// SimpleMA is a streaming Simple Moving Average over a bar source.
type SimpleMA struct {
	period int
	src    Source
	label  string
	window []float64
	sum    float64
}

// NewSMA creates a Simple Moving Average of closes with the given period.
func NewSMA(period int) *SimpleMA {
	return &SimpleMA{period: period, src: Close, label: "SMA", window: make([]float64, 0, period)}
}

// NewVolumeSMA creates a Simple Moving Average of volume.
func NewVolumeSMA(period int) *SimpleMA {
	return &SimpleMA{period: period, src: Volume, label: "VolSMA", window: make([]float64, 0, period)}
}

func (m *SimpleMA) Name() string {
	return fmt.Sprintf("%s(%d)", m.label, m.period)
}

func (m *SimpleMA) Warmup() int {
	return m.period
}

func (m *SimpleMA) Reset() {
	m.window = m.window[:0]
	m.sum = 0
}

func (m *SimpleMA) Update(b market.Bar) {
	m.push(m.src(b))
}

func (m *SimpleMA) push(v float64) {
	m.window = append(m.window, v)
	m.sum += v
	// Keep only the last 'period' values
	if len(m.window) > m.period {
		m.sum -= m.window[0]
		m.window = m.window[1:]
	}
}

func (m *SimpleMA) Ready() bool {
	return m.period > 0 && len(m.window) >= m.period
}

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	// Re-sum to avoid drift from the running total.
	sum := 0.0
	for _, v := range m.window {
		sum += v
	}
	return sum / float64(len(m.window))
}

// ExponentialMA is a streaming Exponential Moving Average. The average is
// seeded with the first value and smoothed with alpha = 2/(period+1); it is
// reported once period values have been seen.
type ExponentialMA struct {
	period int
	alpha  float64
	src    Source
	ema    float64
	count  int
}

// NewEMA creates an Exponential Moving Average of closes with the given period.
func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period: period,
		alpha:  2.0 / float64(period+1),
		src:    Close,
	}
}

func (e *ExponentialMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *ExponentialMA) Warmup() int {
	return e.period
}

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
}

func (e *ExponentialMA) Update(b market.Bar) {
	e.push(e.src(b))
}

func (e *ExponentialMA) push(v float64) {
	if e.count == 0 {
		e.ema = v
	} else {
		e.ema = (v-e.ema)*e.alpha + e.ema
	}
	e.count++
}

func (e *ExponentialMA) Ready() bool {
	return e.period > 0 && e.count >= e.period
}

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}
