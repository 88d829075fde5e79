package bars

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// Mock generates a deterministic random walk per symbol and timeframe, in
// millisecond timestamps ending at the last completed bar.
type Mock struct {
	N   int
	Now func() time.Time
}

func NewMock() *Mock {
	return &Mock{N: 1000, Now: time.Now}
}

func (m *Mock) GetBars(_ context.Context, symbol, timeframe string) ([]types.Bar, error) {
	step, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	n := m.N
	if n <= 0 {
		n = 1000
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	end := now().UTC().Truncate(step)

	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol + "|" + timeframe))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	out := make([]types.Bar, 0, n)
	price := 100.0
	for i := n - 1; i >= 0; i-- {
		t := end.Add(-time.Duration(i) * step)
		drift := (math.Sin(float64(i)/20) + rng.Float64() - 0.5) * 0.5
		o := price
		c := math.Max(1, price+drift)
		out = append(out, types.Bar{
			Time:   t.UnixMilli(),
			Open:   o,
			High:   math.Max(o, c) + rng.Float64()*0.7,
			Low:    math.Min(o, c) - rng.Float64()*0.7,
			Close:  c,
			Volume: float64(100 + rng.Intn(500)),
		})
		price = c
	}
	return out, nil
}
