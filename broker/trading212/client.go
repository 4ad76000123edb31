// Package trading212 is a broker.Broker over the Trading 212 REST API.
package trading212

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/tradeagent/broker"
)

const (
	// DemoURL is the practice environment.
	DemoURL = "https://demo.trading212.com/api/v0"
	// LiveURL is the real-money environment.
	LiveURL = "https://live.trading212.com/api/v0"
)

// ErrRetriesExhausted is returned when every retry of a retryable failure
// (429, 5xx or transport error) has been used.
var ErrRetriesExhausted = errors.New("trading212: retries exhausted")

// APIError is a non-retryable 4xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trading212: API error %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Trading 212 equity API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	retryDelays    []time.Duration
	defaultBackoff time.Duration // 429 without Retry-After
	maxRateLimited int
	pollAttempts   int
	pollInterval   time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

var _ broker.Broker = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithRateLimit sets the request rate.
func WithRateLimit(l *rate.Limiter) Option { return func(c *Client) { c.limiter = l } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithPolling sets how often and how many times a pending order is polled.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(c *Client) { c.pollAttempts, c.pollInterval = attempts, interval }
}

// WithRetryDelays sets the delays between retries of 5xx and transport
// failures, and the wait for a 429 without Retry-After.
func WithRetryDelays(delays []time.Duration, rateLimited time.Duration) Option {
	return func(c *Client) { c.retryDelays, c.defaultBackoff = delays, rateLimited }
}

// NewClient creates a client. An empty baseURL selects the demo API.
func NewClient(apiKey, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DemoURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(rate.Every(time.Second), 1),
		logger:         log.Logger,
		retryDelays:    []time.Duration{2 * time.Second, 4 * time.Second},
		defaultBackoff: 5 * time.Second,
		maxRateLimited: 5,
		pollAttempts:   5,
		pollInterval:   10 * time.Second,
		sleep:          sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
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

type orderPayload struct {
	Ticker    string  `json:"ticker"`
	Quantity  float64 `json:"quantity"`
	OrderType string  `json:"orderType"`
}

type orderResponse struct {
	ID             json.Number         `json:"id"`
	Ticker         string              `json:"ticker"`
	Side           string              `json:"side"`
	Status         string              `json:"status"`
	FilledQuantity decimal.NullDecimal `json:"filledQuantity"`
	FilledPrice    decimal.NullDecimal `json:"filledPrice"`
}

type portfolioItem struct {
	Ticker       string          `json:"ticker"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
}

// PlaceOrder submits a market order. Sells are sent as negative
// quantities. A pending order is polled until it reaches a terminal status
// or the poll budget runs out.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderStatus, error) {
	qty := req.Quantity.InexactFloat64()
	if req.Side == "SELL" {
		qty = -qty
	}
	var resp orderResponse
	err := c.do(ctx, http.MethodPost, "/equity/orders/market", orderPayload{
		Ticker: req.Ticker, Quantity: qty, OrderType: "MARKET",
	}, &resp)
	if err != nil {
		return broker.OrderStatus{}, fmt.Errorf("place order %s: %w", req.Ticker, err)
	}

	st := resp.status(req.Ticker, req.Side)
	if st.Status != broker.StatusPending {
		return st, nil
	}
	return c.poll(ctx, st)
}

func (c *Client) poll(ctx context.Context, st broker.OrderStatus) (broker.OrderStatus, error) {
	for i := 0; i < c.pollAttempts; i++ {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return st, err
		}
		next, err := c.OrderStatus(ctx, st.OrderID)
		if err != nil {
			return st, err
		}
		if next.Ticker == "" {
			next.Ticker = st.Ticker
		}
		if next.Side == "" {
			next.Side = st.Side
		}
		st = next
		if st.Terminal() {
			return st, nil
		}
	}
	c.logger.Warn().Str("order_id", st.OrderID).Msg("order_still_pending")
	return st, nil
}

// OrderStatus fetches one order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (broker.OrderStatus, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/equity/orders/"+orderID, nil, &resp); err != nil {
		return broker.OrderStatus{}, fmt.Errorf("order status %s: %w", orderID, err)
	}
	st := resp.status(resp.Ticker, strings.ToUpper(resp.Side))
	if st.OrderID == "" {
		st.OrderID = orderID
	}
	return st, nil
}

// Positions lists the open portfolio.
func (c *Client) Positions(ctx context.Context) ([]broker.Holding, error) {
	var items []portfolioItem
	if err := c.do(ctx, http.MethodGet, "/equity/portfolio", nil, &items); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	out := make([]broker.Holding, len(items))
	for i, it := range items {
		out[i] = broker.Holding{Ticker: it.Ticker, Quantity: it.Quantity, AvgPrice: it.AveragePrice, CurrentPrice: it.CurrentPrice}
	}
	return out, nil
}

func (r orderResponse) status(ticker, side string) broker.OrderStatus {
	st := broker.OrderStatus{
		OrderID: r.ID.String(),
		Ticker:  ticker,
		Side:    side,
		Status:  MapStatus(r.Status),
	}
	if st.Status == broker.StatusFilled {
		st.FilledQuantity = positive(r.FilledQuantity)
		st.FilledPrice = positive(r.FilledPrice)
	}
	return st
}

func positive(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid || d.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Decimal.Abs())
}

// MapStatus converts a Trading 212 order status. Unknown statuses are
// treated as pending.
func MapStatus(s string) string {
	switch strings.ToUpper(s) {
	case "FILLED":
		return broker.StatusFilled
	case "REJECTED":
		return broker.StatusFailed
	case "CANCELLED", "CANCELLING":
		return broker.StatusCancelled
	default:
		return broker.StatusPending
	}
}

// do sends one request with the retry policy: 429 waits for Retry-After,
// 5xx and transport errors retry after each configured delay, other 4xx
// fail immediately with *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempt, limited := 0, 0
	var lastErr error
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, data, hdr, err := c.send(ctx, method, path, payload)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusTooManyRequests:
			limited++
			if limited > c.maxRateLimited {
				return fmt.Errorf("%w: rate limited %d times", ErrRetriesExhausted, limited-1)
			}
			wait := retryAfter(hdr.Get("Retry-After"), c.defaultBackoff)
			c.logger.Warn().Str("path", path).Dur("retry_after", wait).Msg("rate_limited")
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		case status >= 500:
			lastErr = fmt.Errorf("status %d", status)
		case status >= 400:
			return &APIError{StatusCode: status, Body: strings.TrimSpace(string(data))}
		default:
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		if attempt >= len(c.retryDelays) {
			return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
		}
		c.logger.Warn().Err(lastErr).Str("path", path).Dur("delay", c.retryDelays[attempt]).Msg("broker_retrying")
		if err := c.sleep(ctx, c.retryDelays[attempt]); err != nil {
			return err
		}
		attempt++
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (int, []byte, http.Header, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, resp.Header, nil
}

func retryAfter(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
