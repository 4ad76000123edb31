package risk

import "github.com/shopspring/decimal"

// QuantityPlaces is the fractional-share precision of order quantities.
const QuantityPlaces = 6

var hundred = decimal.NewFromInt(100)

// PctOf returns pct percent of total.
func PctOf(total decimal.Decimal, pct float64) decimal.Decimal {
	return total.Mul(decimal.NewFromFloat(pct)).Div(hundred)
}

// BuySize sizes a buy: the smallest of the requested allocation, the
// position cap and the remaining cash. ok is false when the price is not
// positive or the trade would fall below the minimum value.
func BuySize(p Policy, price decimal.Decimal, allocationPct float64, total, cash decimal.Decimal) (qty, value decimal.Decimal, ok bool) {
	if !price.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}

	tradeValue := decimal.Min(PctOf(total, allocationPct), PctOf(total, p.MaxPositionPct), cash)
	if tradeValue.LessThan(p.MinTradeValue) {
		return decimal.Zero, decimal.Zero, false
	}

	qty = tradeValue.Div(price).Truncate(QuantityPlaces)
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}

	gross := qty.Mul(price)
	value = gross.RoundBank(2)
	if value.GreaterThan(tradeValue) {
		value = gross.Truncate(2)
	}
	if value.LessThan(p.MinTradeValue) {
		return decimal.Zero, decimal.Zero, false
	}
	return qty, value, true
}

// SellValue is the proceeds of liquidating qty at price.
func SellValue(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).RoundBank(2)
}
