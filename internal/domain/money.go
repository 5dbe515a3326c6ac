package domain

import "math"

// TickScale is the fixed-point scale for monetary values: 1 currency unit is
// 1e6 ticks. All balances, prices, volumes, pools, fees and payouts are int64
// tick counts so that settlement arithmetic stays exact.
const TickScale = 1_000_000

// CentScale is the price quantum. Execution prices live on the 0-100 percent
// scale (one share at probability p costs p units), so prices are always a
// whole number of cents.
const CentScale = TickScale / 100

// Ticks converts a float currency amount to fixed-point ticks, rounding to
// the nearest tick.
func Ticks(units float64) int64 {
	return int64(math.Round(units * TickScale))
}

// Units converts fixed-point ticks back to a float currency amount for
// display and JSON responses.
func Units(ticks int64) float64 {
	return float64(ticks) / TickScale
}

// PriceFromPercent converts a whole-percent price (1..99) to ticks per share.
func PriceFromPercent(percent int64) int64 {
	return percent * CentScale
}

// PricePercent converts a per-share price in ticks to the 0-100 display
// scale.
func PricePercent(price int64) float64 {
	return float64(price) / CentScale
}

// RoundToCent rounds a per-share price in ticks to the nearest whole cent.
// Sell refund prices are the FIFO-weighted lot average, rounded this way.
func RoundToCent(ticks int64) int64 {
	if ticks < 0 {
		return -RoundToCent(-ticks)
	}
	return (ticks + CentScale/2) / CentScale * CentScale
}
