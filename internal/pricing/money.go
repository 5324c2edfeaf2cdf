package pricing

import "github.com/shopspring/decimal"

// Minor converts an amount to integer minor units (cents), rounding half away from zero.
func Minor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinor converts integer minor units back into an amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// PercentFromBps converts basis points (1/100 of a percent) into a percentage value.
func PercentFromBps(bps int32) decimal.Decimal {
	return decimal.New(int64(bps), -2)
}
