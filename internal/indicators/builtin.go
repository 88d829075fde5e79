package indicators

import (
	"fmt"
	"math"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// Param is a numeric builtin parameter with its default.
type Param struct {
	Name    string  `json:"name"`
	Default float64 `json:"default"`
}

// Builtin describes a host-side indicator.
type Builtin struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Params []Param `json:"params"`
}

// Output is the computed result of a builtin. Lines is keyed by series name.
type Output struct {
	Lines map[string][]types.LinePoint `json:"lines,omitempty"`
	Bands []types.BandPoint            `json:"bands,omitempty"`
}

var catalogue = []Builtin{
	{ID: "sma", Name: "Simple Moving Average", Params: []Param{{"period", 20}}},
	{ID: "ema", Name: "Exponential Moving Average", Params: []Param{{"period", 20}}},
	{ID: "vwap", Name: "Volume Weighted Average Price"},
	{ID: "bb", Name: "Bollinger Bands", Params: []Param{{"period", 20}, {"mult", 2}}},
	{ID: "rsi", Name: "Relative Strength Index", Params: []Param{{"period", 14}}},
	{ID: "macd", Name: "MACD", Params: []Param{{"fast", 12}, {"slow", 26}, {"signal", 9}}},
}

// Builtins returns the catalogue in display order.
func Builtins() []Builtin {
	out := make([]Builtin, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup finds a builtin by id.
func Lookup(id string) (Builtin, bool) {
	for _, b := range catalogue {
		if b.ID == id {
			return b, true
		}
	}
	return Builtin{}, false
}

// Compute evaluates builtin id over bars. Missing params take their defaults.
func Compute(id string, bars []types.Bar, params map[string]float64) (Output, error) {
	b, ok := Lookup(id)
	if !ok {
		return Output{}, types.NotFoundError("unknown builtin indicator: " + id)
	}
	p, err := b.resolve(params)
	if err != nil {
		return Output{}, err
	}

	switch id {
	case "sma":
		return lines("sma", SMA(bars, int(p["period"]))), nil
	case "ema":
		return lines("ema", EMA(bars, int(p["period"]))), nil
	case "vwap":
		return lines("vwap", VWAP(bars)), nil
	case "rsi":
		return lines("rsi", RSI(bars, int(p["period"]))), nil
	case "bb":
		return Output{Bands: Bollinger(bars, int(p["period"]), p["mult"])}, nil
	case "macd":
		m := MACD(bars, int(p["fast"]), int(p["slow"]), int(p["signal"]))
		return Output{Lines: map[string][]types.LinePoint{
			"macd":      m.MACD,
			"signal":    m.Signal,
			"histogram": m.Histogram,
		}}, nil
	}
	return Output{}, types.NotFoundError("unknown builtin indicator: " + id)
}

func (b Builtin) resolve(params map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(b.Params))
	for _, p := range b.Params {
		v, ok := params[p.Name]
		if !ok {
			v = p.Default
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return nil, types.ValidationError(fmt.Sprintf("%s: %s must be positive", b.ID, p.Name))
		}
		out[p.Name] = v
	}
	return out, nil
}

func lines(name string, pts []types.LinePoint) Output {
	return Output{Lines: map[string][]types.LinePoint{name: pts}}
}
