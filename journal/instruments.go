package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeagent/market"
)

const instrumentColumns = `id, ticker, name, exchange, currency, sector, industry, is_active, added_at`

// AddInstrument inserts an instrument, or reactivates it when the ticker
// already exists. The stored row is returned.
func (q querier) AddInstrument(ctx context.Context, in Instrument) (Instrument, error) {
	in.Ticker = strings.ToUpper(strings.TrimSpace(in.Ticker))
	if in.Ticker == "" {
		return Instrument{}, errors.New("ticker is required")
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}
	if in.AddedAt.IsZero() {
		in.AddedAt = time.Now().UTC()
	}
	_, err := q.exec(ctx, `
		INSERT INTO instruments (ticker, name, exchange, currency, sector, industry, is_active, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET is_active = excluded.is_active`,
		in.Ticker, in.Name, in.Exchange, in.Currency, in.Sector, in.Industry, true, in.AddedAt)
	if err != nil {
		return Instrument{}, fmt.Errorf("add instrument %s: %w", in.Ticker, err)
	}
	return q.InstrumentByTicker(ctx, in.Ticker)
}

// InstrumentByTicker looks up one instrument.
func (q querier) InstrumentByTicker(ctx context.Context, ticker string) (Instrument, error) {
	var in Instrument
	err := q.get(ctx, &in, `SELECT `+instrumentColumns+` FROM instruments WHERE ticker = ?`, strings.ToUpper(ticker))
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument %q: %w", ticker, err)
	}
	return in, nil
}

// ActiveInstruments lists instruments eligible for analysis, by ticker.
func (q querier) ActiveInstruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	if err := q.sel(ctx, &out, `SELECT `+instrumentColumns+` FROM instruments WHERE is_active = ? ORDER BY ticker`, true); err != nil {
		return nil, fmt.Errorf("active instruments: %w", err)
	}
	return out, nil
}

// ListInstruments lists every instrument, by ticker.
func (q querier) ListInstruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	if err := q.sel(ctx, &out, `SELECT `+instrumentColumns+` FROM instruments ORDER BY ticker`); err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	return out, nil
}

// SetInstrumentActive toggles whether an instrument is analyzed.
func (q querier) SetInstrumentActive(ctx context.Context, ticker string, active bool) error {
	res, err := q.exec(ctx, `UPDATE instruments SET is_active = ? WHERE ticker = ?`, active, strings.ToUpper(ticker))
	if err != nil {
		return fmt.Errorf("set active %s: %w", ticker, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("instrument %q: %w", ticker, ErrNotFound)
	}
	return nil
}

// UpdateInstrumentMeta refreshes descriptive fields from a fundamentals
// snapshot. Empty values leave the stored value in place.
func (q querier) UpdateInstrumentMeta(ctx context.Context, instrumentID int64, f market.Fundamentals) error {
	_, err := q.exec(ctx, `
		UPDATE instruments SET
			name = COALESCE(NULLIF(?, ''), name),
			exchange = COALESCE(NULLIF(?, ''), exchange),
			currency = COALESCE(NULLIF(?, ''), currency),
			sector = COALESCE(NULLIF(?, ''), sector),
			industry = COALESCE(NULLIF(?, ''), industry)
		WHERE id = ?`,
		f.Name, f.Exchange, f.Currency, f.Sector, f.Industry, instrumentID)
	if err != nil {
		return fmt.Errorf("update instrument %d: %w", instrumentID, err)
	}
	return nil
}

// UpsertPrices stores bars, replacing any bar already stored for the date.
func (q querier) UpsertPrices(ctx context.Context, instrumentID int64, bars []market.Bar) (int, error) {
	for i, b := range bars {
		_, err := q.exec(ctx, `
			INSERT INTO prices (instrument_id, date, open, high, low, close, adj_close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instrument_id, date) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, adj_close = excluded.adj_close, volume = excluded.volume`,
			instrumentID, market.Day(b.Date), b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume)
		if err != nil {
			return i, fmt.Errorf("upsert price %s %s: %w", b.Ticker, b.Date.Format(market.DateLayout), err)
		}
	}
	return len(bars), nil
}

type priceRow struct {
	Date     time.Time       `db:"date"`
	Open     decimal.Decimal `db:"open"`
	High     decimal.Decimal `db:"high"`
	Low      decimal.Decimal `db:"low"`
	Close    decimal.Decimal `db:"close"`
	AdjClose decimal.Decimal `db:"adj_close"`
	Volume   int64           `db:"volume"`
}

// Prices returns stored bars for [start, end], oldest first.
func (q querier) Prices(ctx context.Context, instrumentID int64, ticker string, start, end time.Time) ([]market.Bar, error) {
	var rows []priceRow
	err := q.sel(ctx, &rows, `
		SELECT date, open, high, low, close, adj_close, volume FROM prices
		WHERE instrument_id = ? AND date >= ? AND date <= ?
		ORDER BY date`, instrumentID, market.Day(start), market.Day(end))
	if err != nil {
		return nil, fmt.Errorf("prices %s: %w", ticker, err)
	}
	out := make([]market.Bar, len(rows))
	for i, r := range rows {
		out[i] = market.Bar{
			Ticker: ticker, Date: market.Day(r.Date),
			Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, AdjClose: r.AdjClose,
			Volume: r.Volume,
		}
	}
	return out, nil
}

// LatestClose returns the most recent stored close. ok is false when the
// instrument has no prices.
func (q querier) LatestClose(ctx context.Context, instrumentID int64) (price decimal.Decimal, ok bool, err error) {
	err = q.get(ctx, &price, `SELECT close FROM prices WHERE instrument_id = ? ORDER BY date DESC LIMIT 1`, instrumentID)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("latest close %d: %w", instrumentID, err)
	}
	return price, true, nil
}

// UpsertFundamentals stores one snapshot per instrument and date.
func (q querier) UpsertFundamentals(ctx context.Context, instrumentID int64, f market.Fundamentals) error {
	day := f.SnapshotDate
	if day.IsZero() {
		day = time.Now().UTC()
	}
	_, err := q.exec(ctx, `
		INSERT INTO fundamentals (instrument_id, snapshot_date, market_cap, pe_ratio, forward_pe, price_to_book, dividend_yield, eps, beta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, snapshot_date) DO UPDATE SET
			market_cap = excluded.market_cap, pe_ratio = excluded.pe_ratio, forward_pe = excluded.forward_pe,
			price_to_book = excluded.price_to_book, dividend_yield = excluded.dividend_yield,
			eps = excluded.eps, beta = excluded.beta`,
		instrumentID, market.Day(day), f.MarketCap, f.PERatio, f.ForwardPE, f.PriceToBook, f.DividendYield, f.EPS, f.Beta)
	if err != nil {
		return fmt.Errorf("upsert fundamentals %s: %w", f.Ticker, err)
	}
	return nil
}

type fundamentalsRow struct {
	SnapshotDate  time.Time           `db:"snapshot_date"`
	MarketCap     decimal.NullDecimal `db:"market_cap"`
	PERatio       decimal.NullDecimal `db:"pe_ratio"`
	ForwardPE     decimal.NullDecimal `db:"forward_pe"`
	PriceToBook   decimal.NullDecimal `db:"price_to_book"`
	DividendYield decimal.NullDecimal `db:"dividend_yield"`
	EPS           decimal.NullDecimal `db:"eps"`
	Beta          decimal.NullDecimal `db:"beta"`
}

// LatestFundamentals returns the newest snapshot for an instrument.
func (q querier) LatestFundamentals(ctx context.Context, in Instrument) (market.Fundamentals, error) {
	var r fundamentalsRow
	err := q.get(ctx, &r, `
		SELECT snapshot_date, market_cap, pe_ratio, forward_pe, price_to_book, dividend_yield, eps, beta
		FROM fundamentals WHERE instrument_id = ? ORDER BY snapshot_date DESC LIMIT 1`, in.ID)
	if err != nil {
		return market.Fundamentals{}, fmt.Errorf("fundamentals %s: %w", in.Ticker, err)
	}
	return market.Fundamentals{
		Ticker: in.Ticker, SnapshotDate: r.SnapshotDate,
		Name: in.Name, Exchange: in.Exchange, Currency: in.Currency, Sector: in.Sector, Industry: in.Industry,
		MarketCap: r.MarketCap, PERatio: r.PERatio, ForwardPE: r.ForwardPE, PriceToBook: r.PriceToBook,
		DividendYield: r.DividendYield, EPS: r.EPS, Beta: r.Beta,
	}, nil
}
