package artifacts

import "strings"

// Separator joins an instance id and an artifact id.
const Separator = "::"

// Prefix is the namespace prefix of every artifact owned by instanceID.
func Prefix(instanceID string) string {
	return instanceID + Separator
}

// Qualify scopes id to instanceID. Already-qualified ids are returned as is.
func Qualify(instanceID, id string) string {
	p := Prefix(instanceID)
	if strings.HasPrefix(id, p) {
		return id
	}
	return p + id
}

// Namespaces scopes writes to a Sink by indicator instance.
type Namespaces struct {
	sink Sink
}

func NewNamespaces(sink Sink) *Namespaces {
	return &Namespaces{sink: sink}
}

// Put writes a under the namespace of instanceID.
func (n *Namespaces) Put(instanceID string, a Artifact) {
	a.ID = Qualify(instanceID, a.ID)
	n.sink.Put(a)
}

// Clear removes every artifact of every kind owned by instanceID and reports
// how many were removed.
func (n *Namespaces) Clear(instanceID string) int {
	p := Prefix(instanceID)
	removed := 0
	for _, k := range Kinds {
		removed += n.sink.ClearPrefix(k, p)
	}
	return removed
}

// Replace clears the namespace of instanceID and writes the staged batch in
// its place. It returns the number of artifacts removed.
func (n *Namespaces) Replace(instanceID string, b *Batch) int {
	items := b.Items()
	for i := range items {
		items[i].ID = Qualify(instanceID, items[i].ID)
	}
	if r, ok := n.sink.(Replacer); ok {
		return r.ReplacePrefix(Prefix(instanceID), items)
	}
	removed := n.Clear(instanceID)
	for _, a := range items {
		n.sink.Put(a)
	}
	return removed
}
