package types

// Bar is one OHLCV sample. Time is epoch seconds once it has passed a bar provider.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// msThreshold separates millisecond timestamps from second timestamps.
// 1e11 seconds is the year 5138; 1e11 milliseconds is early 1973.
const msThreshold = 100_000_000_000

// NormalizeTime converts a millisecond epoch timestamp to seconds and leaves
// second timestamps untouched.
func NormalizeTime(t int64) int64 {
	if t >= msThreshold || t <= -msThreshold {
		return t / 1000
	}
	return t
}

// NormalizeBars rewrites every bar time to epoch seconds in place and returns bars.
func NormalizeBars(bars []Bar) []Bar {
	for i := range bars {
		bars[i].Time = NormalizeTime(bars[i].Time)
	}
	return bars
}

// Closes extracts the close series.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
