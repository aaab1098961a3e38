package discovery

import (
	"github.com/bit2swaz/relaymesh/internal/store"
)

// Table is the ordered peer-observation table. Enumeration order is the order
// in which peers were first observed. Table is not safe for concurrent use;
// the owning session guards it.
type Table struct {
	peers []store.PeerObservation
	index map[string]int
}

func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

// Replace installs obs as the table contents, renumbering positions.
func (t *Table) Replace(obs []store.PeerObservation) {
	t.peers = make([]store.PeerObservation, len(obs))
	t.index = make(map[string]int, len(obs))
	for i, o := range obs {
		o.Position = i
		t.peers[i] = o
		t.index[o.PeerID] = i
	}
}

func (t *Table) Get(peerID string) (store.PeerObservation, bool) {
	i, ok := t.index[peerID]
	if !ok {
		return store.PeerObservation{}, false
	}
	return t.peers[i], true
}

func (t *Table) InRange(peerID string) bool {
	o, ok := t.Get(peerID)
	return ok && o.InRange
}

// InRangeIDs lists in-range peers in enumeration order.
func (t *Table) InRangeIDs() []string {
	var ids []string
	for _, o := range t.peers {
		if o.InRange {
			ids = append(ids, o.PeerID)
		}
	}
	return ids
}

func (t *Table) Snapshot() []store.PeerObservation {
	return append([]store.PeerObservation(nil), t.peers...)
}

func (t *Table) Len() int {
	return len(t.peers)
}

func (t *Table) Clear() {
	t.peers = nil
	t.index = make(map[string]int)
}
