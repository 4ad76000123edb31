// Package openai runs the reasoning step against any OpenAI-compatible chat
// completions endpoint through eino.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradeagent/reasoning"
)

const defaultSystemPrompt = "You are a disciplined equity analyst. Answer with a single JSON object and nothing else."

// Generator is the part of an eino chat model used here.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Config selects the endpoint and model.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	MaxRetries   int
	SystemPrompt string
}

// Analyzer implements reasoning.Analyzer over an eino chat model.
type Analyzer struct {
	gen     Generator
	system  string
	retries int
	timeout time.Duration
	logger  zerolog.Logger
}

var _ reasoning.Analyzer = (*Analyzer)(nil)

// New builds an eino OpenAI chat model from cfg.
func New(ctx context.Context, cfg Config) (*Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	mc := &einoopenai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if cfg.Temperature > 0 {
		t := float32(cfg.Temperature)
		mc.Temperature = &t
	}
	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		mc.MaxTokens = &n
	}
	cm, err := einoopenai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("openai: new chat model: %w", err)
	}
	return NewWithGenerator(cm, cfg), nil
}

// NewWithGenerator wraps an existing chat model.
func NewWithGenerator(gen Generator, cfg Config) *Analyzer {
	a := &Analyzer{
		gen:     gen,
		system:  cfg.SystemPrompt,
		retries: cfg.MaxRetries,
		timeout: cfg.Timeout,
		logger:  log.Logger,
	}
	if a.system == "" {
		a.system = defaultSystemPrompt
	}
	if a.retries <= 0 {
		a.retries = 3
	}
	if a.timeout <= 0 {
		a.timeout = 120 * time.Second
	}
	return a
}

// WithLogger sets the logger and returns a.
func (a *Analyzer) WithLogger(l zerolog.Logger) *Analyzer {
	a.logger = l
	return a
}

// Analyze implements reasoning.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, pkg reasoning.Package) (reasoning.Response, error) {
	return reasoning.Ask(ctx, a.logger, a.retries, reasoning.BuildPrompt(pkg), a.invoke)
}

func (a *Analyzer) invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	msg, err := a.gen.Generate(ctx, []*schema.Message{
		schema.SystemMessage(a.system),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("openai: generate: %w", err)
	}
	if msg == nil || msg.Content == "" {
		return "", errors.New("openai: empty completion")
	}
	return msg.Content, nil
}
