// Package perplexity is a news.Source backed by the Perplexity Sonar chat
// completions API. Each topic is one request; the answer text becomes the
// summary and each citation becomes an item.
package perplexity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/tradeagent/news"
)

const (
	// BaseURL is the public API endpoint.
	BaseURL = "https://api.perplexity.ai"

	sourceName = "perplexity"
	summaryLen = 500
)

// ErrAllTopicsFailed is returned when no topic could be queried.
var ErrAllTopicsFailed = errors.New("perplexity: every topic query failed")

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Citations []any `json:"citations"`
}

// Client queries Perplexity for financial news.
type Client struct {
	http        *resty.Client
	apiKey      string
	model       string
	maxResults  int
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	retryDelays []time.Duration
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
	logger      zerolog.Logger
}

var _ news.Source = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option { return func(c *Client) { c.http.SetBaseURL(u) } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.SetTimeout(d) } }

// WithModel selects the Sonar model.
func WithModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

// WithMaxResults caps items per topic.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithRateLimit sets requests per second. Zero or less disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetryDelays sets the waits between attempts for one topic.
func WithRetryDelays(d ...time.Duration) Option {
	return func(c *Client) { c.retryDelays = d }
}

// WithBreaker trips the circuit after failures consecutive errors and keeps
// it open for openFor.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(c *Client) { c.breaker = newBreaker(failures, openFor) }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

func withSleep(f func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = f }
}

func withClock(f func() time.Time) Option { return func(c *Client) { c.now = f } }

// New creates a Client authenticated with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		http:        resty.New().SetBaseURL(BaseURL).SetTimeout(30 * time.Second),
		apiKey:      apiKey,
		model:       "sonar",
		maxResults:  5,
		limiter:     rate.NewLimiter(rate.Limit(1), 1),
		breaker:     newBreaker(5, time.Minute),
		retryDelays: []time.Duration{2 * time.Second, 4 * time.Second},
		sleep:       sleepCtx,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func newBreaker(failures uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "perplexity",
		Interval: 60 * time.Second,
		Timeout:  openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})
}

// Query fetches news for every topic and returns one flat list with
// duplicate URLs removed. A failing topic is logged and skipped; an error
// is returned only when every topic failed.
func (c *Client) Query(ctx context.Context, topics []string) ([]news.Item, error) {
	if len(topics) == 0 {
		return nil, nil
	}

	var (
		out     []news.Item
		seen    = make(map[string]bool)
		failed  int
		lastErr error
	)
	for _, topic := range topics {
		items, err := c.queryTopic(ctx, topic)
		if err != nil {
			failed++
			lastErr = err
			c.logger.Warn().Err(err).Str("topic", topic).Msg("news_topic_query_failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		for _, it := range items {
			if it.URL != "" {
				if seen[it.URL] {
					continue
				}
				seen[it.URL] = true
			}
			out = append(out, it)
		}
	}

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if failed == len(topics) {
		return nil, fmt.Errorf("%w: %v", ErrAllTopicsFailed, lastErr)
	}
	return out, nil
}

func (c *Client) queryTopic(ctx context.Context, topic string) ([]news.Item, error) {
	req := completionRequest{
		Model:    c.model,
		Messages: []message{{Role: "user", Content: Prompt(topic, c.maxResults)}},
	}

	var lastErr error
	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retryDelays[attempt-1]); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, err := c.breaker.Execute(func() (any, error) { return c.call(ctx, req) })
		if err == nil {
			return c.parse(topic, res.(*completionResponse)), nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
			break
		}
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Str("topic", topic).Msg("perplexity_api_error")
	}
	return nil, lastErr
}

func (c *Client) call(ctx context.Context, body completionRequest) (*completionResponse, error) {
	var out completionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("perplexity: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return &out, nil
}

func (c *Client) parse(topic string, resp *completionResponse) []news.Item {
	if len(resp.Choices) == 0 {
		return nil
	}
	content := truncate(PlainText(resp.Choices[0].Message.Content), summaryLen)
	now := c.now()

	var items []news.Item
	for i, raw := range resp.Citations {
		url, ok := raw.(string)
		if !ok {
			continue
		}
		summary := ""
		if i == 0 {
			summary = content
		}
		items = append(items, news.Item{
			Source:      sourceName,
			Headline:    fmt.Sprintf("%s - source %d", topic, i+1),
			Summary:     summary,
			URL:         url,
			PublishedAt: now,
		})
		if len(items) == c.maxResults {
			break
		}
	}
	if len(items) == 0 && content != "" {
		items = append(items, news.Item{
			Source:      sourceName,
			Headline:    topic,
			Summary:     content,
			PublishedAt: now,
		})
	}
	return items
}

// Prompt is the question asked for one topic.
func Prompt(topic string, maxResults int) string {
	return fmt.Sprintf("Provide the %d most important recent financial news headlines and brief summaries about: %s. "+
		"Focus on market-moving events, earnings, regulatory changes, and significant analyst upgrades/downgrades. "+
		"Be concise and factual.", maxResults, topic)
}

// PlainText strips any HTML markup from s and collapses whitespace.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
