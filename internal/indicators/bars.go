package indicators

import "github.com/dgnsrekt/tv_sandbox/internal/types"

// SMA is the simple moving average of bar closes.
func SMA(bars []types.Bar, period int) []types.LinePoint {
	return align(bars, SMAValues(types.Closes(bars), period), period-1)
}

// EMA is the exponential moving average of bar closes.
func EMA(bars []types.Bar, period int) []types.LinePoint {
	return align(bars, EMAValues(types.Closes(bars), period), period-1)
}

// RSI is Wilder's RSI of bar closes.
func RSI(bars []types.Bar, period int) []types.LinePoint {
	return align(bars, RSIValues(types.Closes(bars), period), period)
}

// Bollinger computes bands around the SMA of closes.
func Bollinger(bars []types.Bar, period int, mult float64) []types.BandPoint {
	upper, basis, lower := BollingerValues(types.Closes(bars), period, mult)
	out := make([]types.BandPoint, len(basis))
	for i := range basis {
		out[i] = types.Band(bars[i+period-1].Time, upper[i], basis[i], lower[i])
	}
	return out
}

// align pairs vals[i] with bars[i+offset].Time.
func align(bars []types.Bar, vals []float64, offset int) []types.LinePoint {
	out := make([]types.LinePoint, len(vals))
	for i, v := range vals {
		out[i] = types.Point(bars[i+offset].Time, v)
	}
	return out
}
