package indicators

import "github.com/dgnsrekt/tv_sandbox/internal/types"

const secondsPerDay = 86400

// VWAP is the session volume-weighted average of typical price. Sums reset
// when the UTC calendar day changes; bars before any volume accumulates in a
// session emit no point.
func VWAP(bars []types.Bar) []types.LinePoint {
	out := make([]types.LinePoint, 0, len(bars))
	var pv, vol float64
	var day int64
	for i, b := range bars {
		if d := utcDay(b.Time); i == 0 || d != day {
			day = d
			pv, vol = 0, 0
		}
		tp := (b.High + b.Low + b.Close) / 3
		pv += tp * b.Volume
		vol += b.Volume
		if vol > 0 {
			out = append(out, types.Point(b.Time, pv/vol))
		}
	}
	return out
}

func utcDay(t int64) int64 {
	d := t / secondsPerDay
	if t%secondsPerDay < 0 {
		d--
	}
	return d
}
