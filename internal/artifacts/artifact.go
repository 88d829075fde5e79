// Package artifacts holds the chart objects scripts draw and scopes them per
// indicator instance.
package artifacts

import (
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// Kind is the family of a chart artifact. Ids are unique within a kind.
type Kind string

const (
	KindLine      Kind = "line"
	KindBands     Kind = "bands"
	KindHistogram Kind = "histogram"
	KindBoxes     Kind = "boxes"
	KindLabels    Kind = "labels"
)

// Kinds lists every artifact kind.
var Kinds = []Kind{KindLine, KindBands, KindHistogram, KindBoxes, KindLabels}

// Artifact is one drawn object. Exactly one data field is set, matching Kind.
type Artifact struct {
	Kind      Kind              `json:"kind"`
	ID        string            `json:"id"`
	Points    []types.LinePoint `json:"points,omitempty"`
	Bands     []types.BandPoint `json:"bands,omitempty"`
	Boxes     []types.Box       `json:"boxes,omitempty"`
	Labels    []types.Label     `json:"labels,omitempty"`
	Options   types.PlotOptions `json:"options,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Sink receives artifact writes.
type Sink interface {
	Put(a Artifact)
	ClearPrefix(kind Kind, prefix string) int
}

// Replacer is implemented by sinks that can swap a whole namespace in one step,
// so readers never observe it half cleared.
type Replacer interface {
	ReplacePrefix(prefix string, arts []Artifact) int
}

// Batch collects the writes of one run until they are committed.
type Batch struct {
	items []Artifact
	index map[Kind]map[string]int
}

func NewBatch() *Batch {
	return &Batch{index: make(map[Kind]map[string]int)}
}

// Put stages a; a later write to the same kind and id replaces the earlier one.
func (b *Batch) Put(a Artifact) {
	ids, ok := b.index[a.Kind]
	if !ok {
		ids = make(map[string]int)
		b.index[a.Kind] = ids
	}
	if i, ok := ids[a.ID]; ok {
		b.items[i] = a
		return
	}
	ids[a.ID] = len(b.items)
	b.items = append(b.items, a)
}

func (b *Batch) Len() int { return len(b.items) }

// Items returns the staged artifacts in first-write order.
func (b *Batch) Items() []Artifact {
	return append([]Artifact(nil), b.items...)
}
