// Package screening scores instruments on six technical and fundamental
// signals and produces the ranked candidate list for a pipeline run.
package screening

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradeagent/indicators"
	"github.com/rustyeddy/tradeagent/market"
)

// Component names.
const (
	RSI              = "rsi"
	MACD             = "macd"
	Bollinger        = "bollinger"
	SMACross         = "sma_cross"
	VolumeAnomaly    = "volume_anomaly"
	PEUndervaluation = "pe_undervaluation"
)

// Weights are per-component weights; they need not sum to 1.
type Weights struct {
	RSI              float64
	MACD             float64
	Bollinger        float64
	SMACross         float64
	VolumeAnomaly    float64
	PEUndervaluation float64
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.RSI + w.MACD + w.Bollinger + w.SMACross + w.VolumeAnomaly + w.PEUndervaluation
}

// Config controls ranking.
type Config struct {
	MaxCandidates           int
	MinMarketCap            float64
	VolumeAnomalyMultiplier float64
	Weights                 Weights
}

// DefaultConfig returns the standard weights and limits.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:           50,
		MinMarketCap:            500_000_000,
		VolumeAnomalyMultiplier: 1.5,
		Weights: Weights{
			RSI:              0.25,
			MACD:             0.20,
			Bollinger:        0.15,
			SMACross:         0.15,
			VolumeAnomaly:    0.10,
			PEUndervaluation: 0.15,
		},
	}
}

// Input is one instrument offered to the ranker.
type Input struct {
	InstrumentID int64
	Ticker       string
	Sector       string
	Indicators   indicators.Snapshot
	Fundamentals market.Summary
}

// Components are the six clamped component scores.
type Components struct {
	RSI              float64 `json:"rsi"`
	MACD             float64 `json:"macd"`
	Bollinger        float64 `json:"bollinger"`
	SMACross         float64 `json:"sma_cross"`
	VolumeAnomaly    float64 `json:"volume_anomaly"`
	PEUndervaluation float64 `json:"pe_undervaluation"`
}

// Candidate is a scored instrument. It lives for one run only.
type Candidate struct {
	InstrumentID int64
	Ticker       string
	Sector       string
	TotalScore   float64
	Components   Components
	Indicators   indicators.Snapshot
	Fundamentals market.Summary
	InPortfolio  bool
	MarketCap    *float64
}

// Ranker scores and ranks instruments.
type Ranker struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a Ranker.
func New(cfg Config) *Ranker {
	return &Ranker{cfg: cfg, logger: log.Logger}
}

// WithLogger sets the logger.
func (r *Ranker) WithLogger(l zerolog.Logger) *Ranker {
	r.logger = l
	return r
}

// Rank scores every input, drops undercapitalized instruments that are not
// held, and returns the rest sorted by total score descending (stable on
// ties) capped at MaxCandidates. A failure scoring one instrument skips it.
func (r *Ranker) Rank(inputs []Input, held map[int64]bool) []Candidate {
	scored := make([]Candidate, 0, len(inputs))
	for _, in := range inputs {
		c, err := r.scoreSafe(in, held[in.InstrumentID])
		if err != nil {
			r.logger.Warn().Err(err).Str("ticker", in.Ticker).Msg("scoring_failed")
			continue
		}
		if !r.keep(c) {
			continue
		}
		scored = append(scored, c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].TotalScore > scored[j].TotalScore
	})
	if r.cfg.MaxCandidates >= 0 && len(scored) > r.cfg.MaxCandidates {
		scored = scored[:r.cfg.MaxCandidates]
	}
	return scored
}

func (r *Ranker) keep(c Candidate) bool {
	return c.InPortfolio || c.MarketCap == nil || *c.MarketCap >= r.cfg.MinMarketCap
}

func (r *Ranker) scoreSafe(in Input, held bool) (c Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scoring %s: %v", in.Ticker, p)
		}
	}()
	return r.Score(in, held), nil
}

// Score computes one candidate.
func (r *Ranker) Score(in Input, held bool) Candidate {
	comp := Components{
		RSI:              ScoreRSI(in.Indicators.RSI),
		MACD:             ScoreMACD(in.Indicators.MACD),
		Bollinger:        ScoreBollinger(in.Indicators.Bollinger),
		SMACross:         ScoreSMACross(in.Indicators.SMACrossBullish),
		VolumeAnomaly:    ScoreVolume(in.Indicators.LatestVolume, in.Indicators.VolumeSMA, r.cfg.VolumeAnomalyMultiplier),
		PEUndervaluation: ScorePE(in.Fundamentals.PERatio),
	}
	return Candidate{
		InstrumentID: in.InstrumentID,
		Ticker:       in.Ticker,
		Sector:       in.Sector,
		TotalScore:   indicators.Round(Total(comp, r.cfg.Weights), 4),
		Components:   comp,
		Indicators:   in.Indicators,
		Fundamentals: in.Fundamentals,
		InPortfolio:  held,
		MarketCap:    in.Fundamentals.MarketCap,
	}
}

// Total is the weighted sum of the component scores.
func Total(c Components, w Weights) float64 {
	return c.RSI*w.RSI +
		c.MACD*w.MACD +
		c.Bollinger*w.Bollinger +
		c.SMACross*w.SMACross +
		c.VolumeAnomaly*w.VolumeAnomaly +
		c.PEUndervaluation*w.PEUndervaluation
}

// ScoreRSI favours oversold readings: clamp((70 - rsi) / 40).
func ScoreRSI(rsi *float64) float64 {
	if rsi == nil {
		return 0
	}
	return clamp((70 - *rsi) / 40)
}

// ScoreMACD is 1 for a bullish positive histogram, 0 when bearish, else 0.5.
func ScoreMACD(m *indicators.MACDValues) float64 {
	if m == nil {
		return 0
	}
	if m.Histogram > 0 && m.Direction == indicators.Bullish {
		return 1
	}
	if m.Direction == indicators.Bearish {
		return 0
	}
	return 0.5
}

// ScoreBollinger favours closes near the lower band: clamp(1 - pband).
func ScoreBollinger(b *indicators.BollingerValues) float64 {
	if b == nil {
		return 0
	}
	return clamp(1 - b.PBand)
}

// ScoreSMACross is 1 for a golden cross, 0 for a death cross and 0.5 when
// there is not enough history to tell.
func ScoreSMACross(bullish *bool) float64 {
	if bullish == nil {
		return 0.5
	}
	if *bullish {
		return 1
	}
	return 0
}

// ScoreVolume rewards volume above multiplier times its average.
func ScoreVolume(latest int64, sma *float64, multiplier float64) float64 {
	if sma == nil || *sma == 0 || multiplier == 0 {
		return 0
	}
	ratio := float64(latest) / (*sma * multiplier)
	if ratio < 1 {
		return 0
	}
	return clamp(ratio)
}

// ScorePE favours low P/E: clamp((25 - pe) / 10).
func ScorePE(pe *float64) float64 {
	if pe == nil {
		return 0
	}
	return clamp((25 - *pe) / 10)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
