// Package sim is a simulated broker that fills market orders at a preset
// price, normally the next trading day's open. It backs backtests and the
// paper-trading mode.
package sim

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/broker"
	"github.com/rustyeddy/tradeagent/pkg/id"
)

// AvgPricePlaces is the precision of averaged entry prices.
const AvgPricePlaces = 4

// Engine is a broker.Broker that never leaves the process.
type Engine struct {
	mu         sync.Mutex
	initial    decimal.Decimal
	cash       decimal.Decimal
	holdings   map[string]*holding
	fillPrices map[string]decimal.Decimal
	orders     map[string]broker.OrderStatus
	now        func() time.Time
}

type holding struct {
	qty decimal.Decimal
	avg decimal.Decimal
}

var _ broker.Broker = (*Engine)(nil)

// NewEngine creates an engine holding initialCash and no positions.
func NewEngine(initialCash decimal.Decimal) *Engine {
	e := &Engine{initial: initialCash, now: func() time.Time { return time.Now().UTC() }}
	e.Reset()
	return e
}

// Reset restores the initial cash and clears positions, prices and orders.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cash = e.initial
	e.holdings = make(map[string]*holding)
	e.fillPrices = make(map[string]decimal.Decimal)
	e.orders = make(map[string]broker.OrderStatus)
}

// SetClock sets the time used to stamp order IDs.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetFillPrices replaces the prices orders fill at, keyed by ticker.
func (e *Engine) SetFillPrices(prices map[string]decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fillPrices = make(map[string]decimal.Decimal, len(prices))
	for t, p := range prices {
		e.fillPrices[strings.ToUpper(t)] = p
	}
}

// SetHoldings replaces cash and positions with a ledger kept elsewhere.
// Paper trading calls it before each run so sells match the positions the
// journal holds.
func (e *Engine) SetHoldings(cash decimal.Decimal, holdings []broker.Holding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cash = cash
	e.holdings = make(map[string]*holding, len(holdings))
	for _, h := range holdings {
		if !h.Quantity.IsPositive() {
			continue
		}
		e.holdings[strings.ToUpper(h.Ticker)] = &holding{qty: h.Quantity, avg: h.AvgPrice}
	}
}

// Cash returns uninvested cash.
func (e *Engine) Cash() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash
}

// PortfolioValue is cash plus every holding marked at its fill price, or
// at its average price when none is set.
func (e *Engine) PortfolioValue() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.cash
	for t, h := range e.holdings {
		total = total.Add(h.qty.Mul(e.markLocked(t, h)))
	}
	return total
}

func (e *Engine) markLocked(ticker string, h *holding) decimal.Decimal {
	if p, ok := e.fillPrices[ticker]; ok {
		return p
	}
	return h.avg
}

// PlaceOrder fills immediately at the ticker's fill price. Orders without a
// price, buys exceeding cash and sells of tickers not held come back FAILED
// with a message. A sell larger than the holding fills the held quantity.
func (e *Engine) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ticker := strings.ToUpper(req.Ticker)
	st := broker.OrderStatus{
		OrderID: id.Order("SIM", e.now()),
		Ticker:  ticker,
		Side:    req.Side,
	}
	if !req.Quantity.IsPositive() {
		return st, fmt.Errorf("place order %s: quantity must be positive", ticker)
	}

	price, ok := e.fillPrices[ticker]
	if !ok {
		return e.failLocked(st, fmt.Sprintf("No next-open price for %s", ticker)), nil
	}

	qty := req.Quantity
	switch req.Side {
	case "BUY":
		cost := qty.Mul(price)
		if cost.GreaterThan(e.cash) {
			return e.failLocked(st, "Insufficient cash"), nil
		}
		e.cash = e.cash.Sub(cost)
		e.addLocked(ticker, qty, price)
	case "SELL":
		h, ok := e.holdings[ticker]
		if !ok {
			return e.failLocked(st, fmt.Sprintf("No position for %s", ticker)), nil
		}
		qty = decimal.Min(qty, h.qty)
		e.reduceLocked(ticker, qty)
		e.cash = e.cash.Add(qty.Mul(price))
	default:
		return st, fmt.Errorf("place order %s: unsupported side %q", ticker, req.Side)
	}

	st.Status = broker.StatusFilled
	st.FilledQuantity = decimal.NewNullDecimal(qty)
	st.FilledPrice = decimal.NewNullDecimal(price)
	e.orders[st.OrderID] = st
	return st, nil
}

func (e *Engine) failLocked(st broker.OrderStatus, msg string) broker.OrderStatus {
	st.Status = broker.StatusFailed
	st.Message = msg
	e.orders[st.OrderID] = st
	return st
}

func (e *Engine) addLocked(ticker string, qty, price decimal.Decimal) {
	h, ok := e.holdings[ticker]
	if !ok {
		e.holdings[ticker] = &holding{qty: qty, avg: price}
		return
	}
	total := h.qty.Add(qty)
	h.avg = h.qty.Mul(h.avg).Add(qty.Mul(price)).Div(total).Round(AvgPricePlaces)
	h.qty = total
}

func (e *Engine) reduceLocked(ticker string, qty decimal.Decimal) {
	h, ok := e.holdings[ticker]
	if !ok {
		return
	}
	h.qty = h.qty.Sub(qty)
	if h.qty.Sign() <= 0 {
		delete(e.holdings, ticker)
	}
}

// OrderStatus returns a previously placed order.
func (e *Engine) OrderStatus(ctx context.Context, orderID string) (broker.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.orders[orderID]
	if !ok {
		return broker.OrderStatus{OrderID: orderID, Status: broker.StatusFailed, Message: "Order not found"}, nil
	}
	return st, nil
}

// Positions lists holdings by ticker, marked at fill prices.
func (e *Engine) Positions(ctx context.Context) ([]broker.Holding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]broker.Holding, 0, len(e.holdings))
	for t, h := range e.holdings {
		out = append(out, broker.Holding{Ticker: t, Quantity: h.qty, AvgPrice: h.avg, CurrentPrice: e.markLocked(t, h)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}
