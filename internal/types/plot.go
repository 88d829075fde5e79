package types

import "encoding/json"

// PlotOptions carries free-form styling passed through to the plot sink.
type PlotOptions map[string]any

// LinePoint is a single sample of a line or histogram series. A nil Value
// means "no data yet".
type LinePoint struct {
	Time  int64    `json:"time"`
	Value *float64 `json:"value"`
}

// Point builds a LinePoint with a concrete value.
func Point(t int64, v float64) LinePoint {
	return LinePoint{Time: t, Value: &v}
}

// BandPoint is one sample of an upper/basis/lower band. Like LinePoint, a
// nil field is a gap, so a script's warm-up NaN never lands at zero.
type BandPoint struct {
	Time  int64    `json:"time"`
	Upper *float64 `json:"upper"`
	Basis *float64 `json:"basis"`
	Lower *float64 `json:"lower"`
}

// Band builds a BandPoint with concrete values.
func Band(t int64, upper, basis, lower float64) BandPoint {
	return BandPoint{Time: t, Upper: &upper, Basis: &basis, Lower: &lower}
}

// Box is a rectangular price/time region.
type Box struct {
	From   int64   `json:"from"`
	To     int64   `json:"to"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// Label shapes.
const (
	ShapeUp     = "up"
	ShapeDown   = "down"
	ShapeCircle = "circle"
)

// Label defaults applied when a script omits them.
const (
	DefaultLabelColor      = "#ffffff"
	DefaultLabelBackground = "rgba(0,0,0,0.6)"
)

// Label is a point annotation.
type Label struct {
	Time       int64   `json:"time"`
	Price      float64 `json:"price"`
	Text       string  `json:"text"`
	Color      string  `json:"color,omitempty"`
	Background string  `json:"background,omitempty"`
	Shape      string  `json:"shape,omitempty"`
	Size       float64 `json:"size,omitempty"`
}

// UnmarshalJSON accepts the short "bg" key as an alias for background.
func (l *Label) UnmarshalJSON(data []byte) error {
	type plain Label
	var aux struct {
		plain
		BG string `json:"bg"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*l = Label(aux.plain)
	if l.Background == "" {
		l.Background = aux.BG
	}
	return nil
}

// WithDefaults fills color and background when absent.
func (l Label) WithDefaults() Label {
	if l.Color == "" {
		l.Color = DefaultLabelColor
	}
	if l.Background == "" {
		l.Background = DefaultLabelBackground
	}
	return l
}

// ValidShape reports whether shape is empty or one of up, down, circle.
func ValidShape(shape string) bool {
	switch shape {
	case "", ShapeUp, ShapeDown, ShapeCircle:
		return true
	}
	return false
}
