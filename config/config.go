package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tradeagent configuration.
type Config struct {
	Portfolio         PortfolioConfig         `json:"portfolio" yaml:"portfolio"`
	Screening         ScreeningConfig         `json:"screening" yaml:"screening"`
	TechnicalAnalysis TechnicalAnalysisConfig `json:"technical_analysis" yaml:"technical_analysis"`
	Pipeline          PipelineConfig          `json:"pipeline" yaml:"pipeline"`
	LLM               LLMConfig               `json:"llm" yaml:"llm"`
	News              NewsConfig              `json:"news" yaml:"news"`
	Memory            MemoryConfig            `json:"memory" yaml:"memory"`
	Backtest          BacktestConfig          `json:"backtest" yaml:"backtest"`

	// Env holds deployment settings and secrets. It is never written to disk.
	Env Env `json:"-" yaml:"-"`
}

// PortfolioConfig bounds position sizing.
type PortfolioConfig struct {
	MaxPositions   int     `json:"max_positions" yaml:"max_positions"`
	MaxPositionPct float64 `json:"max_position_pct" yaml:"max_position_pct"`
	MinTradeValue  float64 `json:"min_trade_value" yaml:"min_trade_value"`
	BaseCurrency   string  `json:"base_currency" yaml:"base_currency"`
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
}

// ScreeningWeights are the per-component weights of the candidate score.
type ScreeningWeights struct {
	RSI              float64 `json:"rsi" yaml:"rsi"`
	MACD             float64 `json:"macd" yaml:"macd"`
	Bollinger        float64 `json:"bollinger" yaml:"bollinger"`
	SMACross         float64 `json:"sma_cross" yaml:"sma_cross"`
	VolumeAnomaly    float64 `json:"volume_anomaly" yaml:"volume_anomaly"`
	PEUndervaluation float64 `json:"pe_undervaluation" yaml:"pe_undervaluation"`
}

// Sum returns the total of all weights.
func (w ScreeningWeights) Sum() float64 {
	return w.RSI + w.MACD + w.Bollinger + w.SMACross + w.VolumeAnomaly + w.PEUndervaluation
}

// ScreeningThresholds tune individual component scores.
type ScreeningThresholds struct {
	RSIOversold             int     `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought           int     `json:"rsi_overbought" yaml:"rsi_overbought"`
	VolumeAnomalyMultiplier float64 `json:"volume_anomaly_multiplier" yaml:"volume_anomaly_multiplier"`
	BollingerProximityPct   float64 `json:"bollinger_proximity_pct" yaml:"bollinger_proximity_pct"`
}

// ScreeningConfig controls candidate ranking.
type ScreeningConfig struct {
	MaxCandidates int                 `json:"max_candidates" yaml:"max_candidates"`
	MinMarketCap  float64             `json:"min_market_cap" yaml:"min_market_cap"`
	Weights       ScreeningWeights    `json:"weights" yaml:"weights"`
	Thresholds    ScreeningThresholds `json:"thresholds" yaml:"thresholds"`
}

// TechnicalAnalysisConfig holds indicator periods.
type TechnicalAnalysisConfig struct {
	RSIPeriod       int     `json:"rsi_period" yaml:"rsi_period"`
	MACDFast        int     `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow        int     `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal      int     `json:"macd_signal" yaml:"macd_signal"`
	BollingerPeriod int     `json:"bollinger_period" yaml:"bollinger_period"`
	BollingerStd    float64 `json:"bollinger_std" yaml:"bollinger_std"`
	SMAShort        int     `json:"sma_short" yaml:"sma_short"`
	SMALong         int     `json:"sma_long" yaml:"sma_long"`
	EMAShort        int     `json:"ema_short" yaml:"ema_short"`
	EMALong         int     `json:"ema_long" yaml:"ema_long"`
	VolumeSMAPeriod int     `json:"volume_sma_period" yaml:"volume_sma_period"`
}

// PipelineConfig controls scheduling and the reasoning call.
type PipelineConfig struct {
	ScheduleHour      int `json:"schedule_hour" yaml:"schedule_hour"`
	ScheduleMinute    int `json:"schedule_minute" yaml:"schedule_minute"`
	MaxLLMRetries     int `json:"max_llm_retries" yaml:"max_llm_retries"`
	LLMTimeoutSeconds int `json:"llm_timeout_seconds" yaml:"llm_timeout_seconds"`
	LookbackDays      int `json:"lookback_days" yaml:"lookback_days"`
	FetchConcurrency  int `json:"fetch_concurrency" yaml:"fetch_concurrency"`
}

// LLMTimeout returns the per-call reasoning timeout.
func (p PipelineConfig) LLMTimeout() time.Duration {
	return time.Duration(p.LLMTimeoutSeconds) * time.Second
}

// LLMConfig selects and tunes the reasoning provider.
type LLMConfig struct {
	Provider         string  `json:"provider" yaml:"provider"` // "claude_cli", "openai" or "scripted"
	Model            string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	SystemPromptPath string  `json:"system_prompt_path,omitempty" yaml:"system_prompt_path,omitempty"`
	MaxOutputTokens  int     `json:"max_output_tokens" yaml:"max_output_tokens"`
}

// NewsConfig selects the news provider and default topics.
type NewsConfig struct {
	Provider           string   `json:"provider" yaml:"provider"` // "perplexity" or "static"
	QueriesPerRun      int      `json:"queries_per_run" yaml:"queries_per_run"`
	MaxResultsPerTopic int      `json:"max_results_per_topic" yaml:"max_results_per_topic"`
	RequestsPerSecond  float64  `json:"requests_per_second" yaml:"requests_per_second"`
	CacheTTL           string   `json:"cache_ttl" yaml:"cache_ttl"`
	Sectors            []string `json:"sectors" yaml:"sectors"`
}

// CacheDuration parses CacheTTL, returning 0 when unset or invalid.
func (n NewsConfig) CacheDuration() time.Duration {
	if n.CacheTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(n.CacheTTL)
	if err != nil {
		return 0
	}
	return d
}

// MemoryConfig bounds decision-memory retrieval.
type MemoryConfig struct {
	MaxItemsPerCandidate int     `json:"max_items_per_candidate" yaml:"max_items_per_candidate"`
	ExactTickerMax       int     `json:"exact_ticker_max" yaml:"exact_ticker_max"`
	SectorMax            int     `json:"sector_max" yaml:"sector_max"`
	SimilarSignalsMax    int     `json:"similar_signals_max" yaml:"similar_signals_max"`
	RSITolerance         float64 `json:"rsi_tolerance" yaml:"rsi_tolerance"`
	OutcomeLookbackDays  int     `json:"outcome_lookback_days" yaml:"outcome_lookback_days"`
}

// BacktestConfig holds replay defaults.
type BacktestConfig struct {
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	BufferDays     int     `json:"buffer_days" yaml:"buffer_days"`
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON),
// starting from Default so omitted keys keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON otherwise).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	p := c.Portfolio
	if p.MaxPositions <= 0 {
		return fmt.Errorf("portfolio.max_positions must be positive")
	}
	if p.MaxPositionPct <= 0 || p.MaxPositionPct > 100 {
		return fmt.Errorf("portfolio.max_position_pct must be in (0, 100]")
	}
	if p.MinTradeValue < 0 {
		return fmt.Errorf("portfolio.min_trade_value must not be negative")
	}
	if p.BaseCurrency == "" {
		return fmt.Errorf("portfolio.base_currency is required")
	}
	if p.InitialCapital <= 0 {
		return fmt.Errorf("portfolio.initial_capital must be positive")
	}

	s := c.Screening
	if s.MaxCandidates <= 0 {
		return fmt.Errorf("screening.max_candidates must be positive")
	}
	if s.MinMarketCap < 0 {
		return fmt.Errorf("screening.min_market_cap must not be negative")
	}
	if s.Thresholds.VolumeAnomalyMultiplier <= 0 {
		return fmt.Errorf("screening.thresholds.volume_anomaly_multiplier must be positive")
	}

	ta := c.TechnicalAnalysis
	periods := []struct {
		name string
		v    int
	}{
		{"rsi_period", ta.RSIPeriod},
		{"macd_fast", ta.MACDFast},
		{"macd_slow", ta.MACDSlow},
		{"macd_signal", ta.MACDSignal},
		{"bollinger_period", ta.BollingerPeriod},
		{"sma_short", ta.SMAShort},
		{"sma_long", ta.SMALong},
		{"ema_short", ta.EMAShort},
		{"ema_long", ta.EMALong},
		{"volume_sma_period", ta.VolumeSMAPeriod},
	}
	for _, p := range periods {
		if p.v <= 0 {
			return fmt.Errorf("technical_analysis.%s must be positive", p.name)
		}
	}
	if ta.MACDFast >= ta.MACDSlow {
		return fmt.Errorf("technical_analysis.macd_fast must be less than macd_slow")
	}

	pl := c.Pipeline
	if pl.ScheduleHour < 0 || pl.ScheduleHour > 23 {
		return fmt.Errorf("pipeline.schedule_hour must be in [0, 23]")
	}
	if pl.ScheduleMinute < 0 || pl.ScheduleMinute > 59 {
		return fmt.Errorf("pipeline.schedule_minute must be in [0, 59]")
	}
	if pl.MaxLLMRetries <= 0 {
		return fmt.Errorf("pipeline.max_llm_retries must be positive")
	}
	if pl.LLMTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.llm_timeout_seconds must be positive")
	}

	switch c.LLM.Provider {
	case "claude_cli", "openai", "scripted":
	default:
		return fmt.Errorf("llm.provider must be 'claude_cli', 'openai' or 'scripted'")
	}
	switch c.News.Provider {
	case "perplexity", "static":
	default:
		return fmt.Errorf("news.provider must be 'perplexity' or 'static'")
	}

	m := c.Memory
	if m.MaxItemsPerCandidate <= 0 || m.ExactTickerMax < 0 || m.SectorMax < 0 || m.SimilarSignalsMax < 0 {
		return fmt.Errorf("memory limits must not be negative and max_items_per_candidate must be positive")
	}
	if m.RSITolerance < 0 {
		return fmt.Errorf("memory.rsi_tolerance must not be negative")
	}

	if c.Backtest.BufferDays < 0 {
		return fmt.Errorf("backtest.buffer_days must not be negative")
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Portfolio: PortfolioConfig{
			MaxPositions:   20,
			MaxPositionPct: 5.0,
			MinTradeValue:  100,
			BaseCurrency:   "EUR",
			InitialCapital: 50000,
		},
		Screening: ScreeningConfig{
			MaxCandidates: 50,
			MinMarketCap:  500_000_000,
			Weights: ScreeningWeights{
				RSI:              0.25,
				MACD:             0.20,
				Bollinger:        0.15,
				SMACross:         0.15,
				VolumeAnomaly:    0.10,
				PEUndervaluation: 0.15,
			},
			Thresholds: ScreeningThresholds{
				RSIOversold:             30,
				RSIOverbought:           70,
				VolumeAnomalyMultiplier: 1.5,
				BollingerProximityPct:   5.0,
			},
		},
		TechnicalAnalysis: TechnicalAnalysisConfig{
			RSIPeriod:       14,
			MACDFast:        12,
			MACDSlow:        26,
			MACDSignal:      9,
			BollingerPeriod: 20,
			BollingerStd:    2,
			SMAShort:        50,
			SMALong:         200,
			EMAShort:        12,
			EMALong:         26,
			VolumeSMAPeriod: 20,
		},
		Pipeline: PipelineConfig{
			ScheduleHour:      7,
			ScheduleMinute:    0,
			MaxLLMRetries:     3,
			LLMTimeoutSeconds: 120,
			LookbackDays:      365,
			FetchConcurrency:  8,
		},
		LLM: LLMConfig{
			Provider:        "claude_cli",
			Temperature:     0.3,
			MaxOutputTokens: 3000,
		},
		News: NewsConfig{
			Provider:           "perplexity",
			QueriesPerRun:      8,
			MaxResultsPerTopic: 5,
			RequestsPerSecond:  2,
			CacheTTL:           "30m",
			Sectors: []string{
				"technology",
				"semiconductors",
				"artificial intelligence",
				"energy",
				"healthcare",
				"financials",
				"consumer discretionary",
				"cybersecurity",
			},
		},
		Memory: MemoryConfig{
			MaxItemsPerCandidate: 10,
			ExactTickerMax:       10,
			SectorMax:            5,
			SimilarSignalsMax:    5,
			RSITolerance:         10,
			OutcomeLookbackDays:  7,
		},
		Backtest: BacktestConfig{
			InitialCapital: 50000,
			BufferDays:     400,
		},
		Env: DefaultEnv(),
	}
}
