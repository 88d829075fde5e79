// Package bars provides OHLCV history to running scripts. Sources may store
// times in seconds or milliseconds; the supervisor normalizes at the boundary.
package bars

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// DefaultLimit caps how many bars a source returns.
const DefaultLimit = 5000

// Provider serves bars for a symbol and timeframe, oldest first.
type Provider interface {
	GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error)
}

var timeframeRe = regexp.MustCompile(`^([1-9][0-9]{0,3})([smhdw])$`)

// ParseTimeframe converts "1m", "4h", "1d" style timeframes to a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	m := timeframeRe.FindStringSubmatch(tf)
	if m == nil {
		return 0, types.ValidationError(fmt.Sprintf("invalid timeframe %q", tf))
	}
	n, _ := strconv.Atoi(m[1])
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}

func notFound(symbol, timeframe string) error {
	return types.NotFoundError(fmt.Sprintf("no bars for %s %s", symbol, timeframe))
}

// Fallback asks Primary first and Secondary when Primary has no such series.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

func (f Fallback) GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error) {
	out, err := f.Primary.GetBars(ctx, symbol, timeframe)
	if err == nil || !types.HasCode(err, types.CodeNotFound) || f.Secondary == nil {
		return out, err
	}
	return f.Secondary.GetBars(ctx, symbol, timeframe)
}
