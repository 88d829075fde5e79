// Package indicators implements the technical-indicator math shared by the
// sandbox utils and the host's built-in indicators.
//
// The *Values functions operate on plain numeric series; output index i of a
// windowed function corresponds to input index i+period-1 (i+period for RSI,
// which needs one extra sample to form its first delta). Too-short input or a
// non-positive period yields an empty, non-nil slice.
package indicators

import "math"

// SMAValues is the sliding-window mean of xs, kept as a running sum.
func SMAValues(xs []float64, period int) []float64 {
	if period <= 0 || len(xs) < period {
		return []float64{}
	}
	out := make([]float64, 0, len(xs)-period+1)
	n := float64(period)
	var sum float64
	for i, x := range xs {
		sum += x
		if i >= period {
			sum -= xs[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/n)
		}
	}
	return out
}

// EMAValues is the exponential moving average of xs, seeded with xs[0] and
// emitted once period samples have been seen.
func EMAValues(xs []float64, period int) []float64 {
	if period <= 0 || len(xs) < period {
		return []float64{}
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(xs)-period+1)
	prev := xs[0]
	for i, x := range xs {
		if i > 0 {
			prev = x*k + prev*(1-k)
		}
		if i >= period-1 {
			out = append(out, prev)
		}
	}
	return out
}

// RSIValues is Wilder's relative strength index over xs.
func RSIValues(xs []float64, period int) []float64 {
	if period <= 0 || len(xs) < period+1 {
		return []float64{}
	}
	p := float64(period)
	var gain, loss float64
	for i := 1; i <= period; i++ {
		g, l := split(xs[i] - xs[i-1])
		gain += g
		loss += l
	}
	avgGain, avgLoss := gain/p, loss/p

	out := make([]float64, 0, len(xs)-period)
	out = append(out, rsiFrom(avgGain, avgLoss))
	for i := period + 1; i < len(xs); i++ {
		g, l := split(xs[i] - xs[i-1])
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out = append(out, rsiFrom(avgGain, avgLoss))
	}
	return out
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	v := 100 - 100/(1+avgGain/avgLoss)
	return math.Max(0, math.Min(100, v))
}

// BollingerValues returns upper, basis and lower bands of xs using the
// population standard deviation of each window.
func BollingerValues(xs []float64, period int, mult float64) (upper, basis, lower []float64) {
	if period <= 0 || len(xs) < period {
		return []float64{}, []float64{}, []float64{}
	}
	size := len(xs) - period + 1
	upper = make([]float64, 0, size)
	basis = make([]float64, 0, size)
	lower = make([]float64, 0, size)

	n := float64(period)
	var sum, sumSq float64
	for i, x := range xs {
		sum += x
		sumSq += x * x
		if i >= period {
			old := xs[i-period]
			sum -= old
			sumSq -= old * old
		}
		if i < period-1 {
			continue
		}
		mean := sum / n
		variance := math.Max(0, sumSq/n-mean*mean)
		sd := math.Sqrt(variance)
		basis = append(basis, mean)
		upper = append(upper, mean+mult*sd)
		lower = append(lower, mean-mult*sd)
	}
	return upper, basis, lower
}
