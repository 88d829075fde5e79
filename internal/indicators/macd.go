package indicators

import "github.com/dgnsrekt/tv_sandbox/internal/types"

// MACDResult holds the three MACD series. Signal and Histogram share timestamps.
type MACDResult struct {
	MACD      []types.LinePoint `json:"macd"`
	Signal    []types.LinePoint `json:"signal"`
	Histogram []types.LinePoint `json:"histogram"`
}

// MACD computes ema(fast)-ema(slow) aligned by timestamp, its signal EMA and
// the histogram. All series are empty when len(bars) < slow+signal.
func MACD(bars []types.Bar, fast, slow, signal int) MACDResult {
	res := MACDResult{
		MACD:      []types.LinePoint{},
		Signal:    []types.LinePoint{},
		Histogram: []types.LinePoint{},
	}
	if fast <= 0 || slow <= 0 || signal <= 0 || len(bars) < slow+signal {
		return res
	}

	slowByTime := make(map[int64]float64)
	for _, p := range EMA(bars, slow) {
		slowByTime[p.Time] = *p.Value
	}
	vals := make([]float64, 0, len(slowByTime))
	for _, p := range EMA(bars, fast) {
		s, ok := slowByTime[p.Time]
		if !ok {
			continue
		}
		v := *p.Value - s
		res.MACD = append(res.MACD, types.Point(p.Time, v))
		vals = append(vals, v)
	}

	sig := EMAValues(vals, signal)
	for i, s := range sig {
		m := res.MACD[i+signal-1]
		res.Signal = append(res.Signal, types.Point(m.Time, s))
		res.Histogram = append(res.Histogram, types.Point(m.Time, *m.Value-s))
	}
	return res
}
