package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/broker"
	"github.com/rustyeddy/tradeagent/broker/trading212"
	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/indicators"
	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/marketdata"
	"github.com/rustyeddy/tradeagent/marketdata/yahoo"
	"github.com/rustyeddy/tradeagent/memory"
	"github.com/rustyeddy/tradeagent/news"
	"github.com/rustyeddy/tradeagent/news/perplexity"
	"github.com/rustyeddy/tradeagent/pipeline"
	"github.com/rustyeddy/tradeagent/reasoning"
	"github.com/rustyeddy/tradeagent/reasoning/claudecli"
	"github.com/rustyeddy/tradeagent/reasoning/openai"
	"github.com/rustyeddy/tradeagent/reasoning/scripted"
	"github.com/rustyeddy/tradeagent/risk"
	"github.com/rustyeddy/tradeagent/screening"
	"github.com/rustyeddy/tradeagent/sim"
)

func (rc *RootConfig) openStore() (*journal.Store, error) {
	env := rc.cfg.Env
	s, err := journal.Open(env.DatabaseDriver, env.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return s, nil
}

func indicatorParams(c config.TechnicalAnalysisConfig) indicators.Params {
	return indicators.Params{
		RSIPeriod:       c.RSIPeriod,
		MACDFast:        c.MACDFast,
		MACDSlow:        c.MACDSlow,
		MACDSignal:      c.MACDSignal,
		BollingerPeriod: c.BollingerPeriod,
		BollingerStd:    c.BollingerStd,
		SMAShort:        c.SMAShort,
		SMALong:         c.SMALong,
		EMAShort:        c.EMAShort,
		EMALong:         c.EMALong,
		VolumeSMAPeriod: c.VolumeSMAPeriod,
	}
}

func screeningConfig(c config.ScreeningConfig) screening.Config {
	w := c.Weights
	return screening.Config{
		MaxCandidates:           c.MaxCandidates,
		MinMarketCap:            c.MinMarketCap,
		VolumeAnomalyMultiplier: c.Thresholds.VolumeAnomalyMultiplier,
		Weights: screening.Weights{
			RSI:              w.RSI,
			MACD:             w.MACD,
			Bollinger:        w.Bollinger,
			SMACross:         w.SMACross,
			VolumeAnomaly:    w.VolumeAnomaly,
			PEUndervaluation: w.PEUndervaluation,
		},
	}
}

func riskPolicy(c config.PortfolioConfig) risk.Policy {
	return risk.Policy{
		MaxPositions:   c.MaxPositions,
		MaxPositionPct: c.MaxPositionPct,
		MinTradeValue:  decimal.NewFromFloat(c.MinTradeValue),
	}
}

func memoryConfig(c config.MemoryConfig) memory.Config {
	return memory.Config{
		MaxItemsPerCandidate: c.MaxItemsPerCandidate,
		ExactTickerMax:       c.ExactTickerMax,
		SectorMax:            c.SectorMax,
		SimilarSignalsMax:    c.SimilarSignalsMax,
		RSITolerance:         c.RSITolerance,
		OutcomeLookbackDays:  c.OutcomeLookbackDays,
	}
}

// pipelineOptions maps the config file onto the pipeline.
func pipelineOptions(cfg *config.Config) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Indicators = indicatorParams(cfg.TechnicalAnalysis)
	opts.Screening = screeningConfig(cfg.Screening)
	opts.Risk = riskPolicy(cfg.Portfolio)
	opts.Memory = memoryConfig(cfg.Memory)
	opts.InitialCapital = decimal.NewFromFloat(cfg.Portfolio.InitialCapital)
	opts.Currency = cfg.Portfolio.BaseCurrency
	opts.LookbackDays = cfg.Pipeline.LookbackDays
	opts.NewsSectors = cfg.News.Sectors
	return opts
}

func (rc *RootConfig) marketData() marketdata.Provider {
	return yahoo.New(
		yahoo.WithWorkers(rc.cfg.Pipeline.FetchConcurrency),
		yahoo.WithLogger(rc.logger),
	)
}

// newsSource returns the configured news source and a cleanup func. A
// perplexity source without an API key degrades to no news.
func (rc *RootConfig) newsSource() (news.Source, func()) {
	cfg, env := rc.cfg.News, rc.cfg.Env
	noop := func() {}
	if cfg.Provider != "perplexity" {
		return news.Static{}, noop
	}
	if env.PerplexityAPIKey == "" {
		rc.logger.Warn().Msg("perplexity_api_key_missing_news_disabled")
		return news.Static{}, noop
	}

	var src news.Source = perplexity.New(env.PerplexityAPIKey,
		perplexity.WithModel(env.PerplexityModel),
		perplexity.WithMaxResults(cfg.MaxResultsPerTopic),
		perplexity.WithRateLimit(cfg.RequestsPerSecond),
		perplexity.WithLogger(rc.logger),
	)
	if env.RedisAddr == "" {
		return src, noop
	}
	rdb := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
	ttl := cfg.CacheDuration()
	if ttl <= 0 {
		ttl = news.DefaultCacheTTL
	}
	cached := news.NewCached(src, rdb, ttl).WithLogger(rc.logger)
	return cached, func() { _ = rdb.Close() }
}

// analyzer builds the reasoning adapter. provider overrides llm.provider
// when set.
func (rc *RootConfig) analyzer(ctx context.Context, provider string) (reasoning.Analyzer, error) {
	cfg, env := rc.cfg, rc.cfg.Env
	if provider == "" {
		provider = cfg.LLM.Provider
	}
	system, err := reasoning.ReadSystemPrompt(cfg.LLM.SystemPromptPath)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(provider) {
	case "claude_cli":
		timeout := env.ClaudeCLITimeout
		if timeout <= 0 {
			timeout = cfg.Pipeline.LLMTimeout()
		}
		return claudecli.New(claudecli.Config{
			Path:         env.ClaudeCLIPath,
			Timeout:      timeout,
			MaxRetries:   cfg.Pipeline.MaxLLMRetries,
			SystemPrompt: system,
		}).WithLogger(rc.logger), nil
	case "openai":
		a, err := openai.New(ctx, openai.Config{
			APIKey:       env.OpenAIAPIKey,
			BaseURL:      env.OpenAIBaseURL,
			Model:        cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			MaxTokens:    cfg.LLM.MaxOutputTokens,
			Timeout:      cfg.Pipeline.LLMTimeout(),
			MaxRetries:   cfg.Pipeline.MaxLLMRetries,
			SystemPrompt: system,
		})
		if err != nil {
			return nil, err
		}
		return a.WithLogger(rc.logger), nil
	case "scripted":
		return scripted.New(), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", provider)
}

var errNoBrokerKey = errors.New("T212_API_KEY is not set; use --paper for simulated fills")

// newBroker returns the Trading 212 client, or the simulated engine in paper
// mode. The bool reports whether fills are simulated.
func (rc *RootConfig) newBroker(paper bool) (broker.Broker, bool, error) {
	env := rc.cfg.Env
	if paper {
		return sim.NewEngine(decimal.NewFromFloat(rc.cfg.Portfolio.InitialCapital)), true, nil
	}
	if env.T212APIKey == "" {
		return nil, false, errNoBrokerKey
	}
	return trading212.NewClient(env.T212APIKey, env.T212BaseURL, trading212.WithLogger(rc.logger)), false, nil
}

// newService wires a live pipeline.
func (rc *RootConfig) newService(ctx context.Context, store *journal.Store, paper bool, opts pipeline.Options) (*pipeline.Service, func(), error) {
	an, err := rc.analyzer(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	b, simulated, err := rc.newBroker(paper)
	if err != nil {
		return nil, nil, err
	}
	src, cleanup := rc.newsSource()

	opts.PaperFills = simulated
	l := rc.logger
	opts.Logger = &l
	svc := pipeline.New(store, pipeline.Deps{
		Market:   rc.marketData(),
		Analyzer: an,
		News:     src,
		Broker:   b,
	}, opts)
	return svc, cleanup, nil
}
