package artifacts

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ChangeKind names what happened to the store.
type ChangeKind string

const (
	ChangePut     ChangeKind = "put"
	ChangeClear   ChangeKind = "clear"
	ChangeReplace ChangeKind = "replace"
)

// Change describes one store mutation.
type Change struct {
	Type    ChangeKind `json:"type"`
	Kind    Kind       `json:"kind,omitempty"`
	ID      string     `json:"id,omitempty"`
	Prefix  string     `json:"prefix,omitempty"`
	Removed int        `json:"removed,omitempty"`
	Written int        `json:"written,omitempty"`
}

// MemoryStore is the in-process artifact store charts read from.
type MemoryStore struct {
	mu       sync.RWMutex
	byKind   map[Kind]map[string]Artifact
	onChange func(Change)
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		byKind: make(map[Kind]map[string]Artifact, len(Kinds)),
		now:    time.Now,
	}
	for _, k := range Kinds {
		s.byKind[k] = make(map[string]Artifact)
	}
	return s
}

// OnChange registers fn to be called after every mutation. fn runs outside
// the store lock.
func (s *MemoryStore) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *MemoryStore) notify(c Change) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

func (s *MemoryStore) put(a Artifact) {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = s.now().UTC()
	}
	m, ok := s.byKind[a.Kind]
	if !ok {
		m = make(map[string]Artifact)
		s.byKind[a.Kind] = m
	}
	m[a.ID] = a
}

func (s *MemoryStore) Put(a Artifact) {
	s.mu.Lock()
	s.put(a)
	s.mu.Unlock()
	s.notify(Change{Type: ChangePut, Kind: a.Kind, ID: a.ID})
}

func (s *MemoryStore) clearPrefix(kind Kind, prefix string) int {
	n := 0
	for id := range s.byKind[kind] {
		if strings.HasPrefix(id, prefix) {
			delete(s.byKind[kind], id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) ClearPrefix(kind Kind, prefix string) int {
	s.mu.Lock()
	n := s.clearPrefix(kind, prefix)
	s.mu.Unlock()
	if n > 0 {
		s.notify(Change{Type: ChangeClear, Kind: kind, Prefix: prefix, Removed: n})
	}
	return n
}

func (s *MemoryStore) ReplacePrefix(prefix string, arts []Artifact) int {
	s.mu.Lock()
	removed := 0
	for _, k := range Kinds {
		removed += s.clearPrefix(k, prefix)
	}
	for _, a := range arts {
		s.put(a)
	}
	s.mu.Unlock()
	s.notify(Change{Type: ChangeReplace, Prefix: prefix, Removed: removed, Written: len(arts)})
	return removed
}

// Get returns one artifact.
func (s *MemoryStore) Get(kind Kind, id string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byKind[kind][id]
	return a, ok
}

// List returns artifacts whose id starts with prefix, sorted by kind then id.
// An empty prefix lists everything.
func (s *MemoryStore) List(prefix string) []Artifact {
	s.mu.RLock()
	var out []Artifact
	for _, k := range Kinds {
		for id, a := range s.byKind[k] {
			if strings.HasPrefix(id, prefix) {
				out = append(out, a)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of stored artifacts per kind.
func (s *MemoryStore) Count() map[Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Kind]int, len(s.byKind))
	for k, m := range s.byKind {
		out[k] = len(m)
	}
	return out
}
