package mesh

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/bit2swaz/relaymesh/internal/relay"
	"github.com/bit2swaz/relaymesh/internal/store"
)

// PeerObserver receives the full peer table after every discovery pass.
type PeerObserver interface {
	PeersUpdated(peers []store.PeerObservation)
}

// MessageObserver receives every delivery this session makes or receives.
type MessageObserver interface {
	MessageDelivered(d relay.Delivery)
}

// observers are matched by identity on removal, so implementations must be
// comparable; pointers are the usual choice.
type observers struct {
	mu    sync.RWMutex
	peers []PeerObserver
	msgs  []MessageObserver
}

// RegisterPeerObserver adds o to the peer table listeners. Observers are
// matched by ==, so only comparable observers (usually pointers) can be
// unregistered later.
func (m *Manager) RegisterPeerObserver(o PeerObserver) {
	m.observers.mu.Lock()
	defer m.observers.mu.Unlock()
	m.observers.peers = append(m.observers.peers, o)
}

// UnregisterPeerObserver removes o. An observer that is not comparable is
// never matched.
func (m *Manager) UnregisterPeerObserver(o PeerObserver) {
	if !isComparable(o) {
		return
	}
	m.observers.mu.Lock()
	defer m.observers.mu.Unlock()
	for i, p := range m.observers.peers {
		if p == o {
			m.observers.peers = append(m.observers.peers[:i:i], m.observers.peers[i+1:]...)
			return
		}
	}
}

// RegisterMessageObserver adds o to the delivery listeners. The same
// comparability rule as RegisterPeerObserver applies.
func (m *Manager) RegisterMessageObserver(o MessageObserver) {
	m.observers.mu.Lock()
	defer m.observers.mu.Unlock()
	m.observers.msgs = append(m.observers.msgs, o)
}

func (m *Manager) UnregisterMessageObserver(o MessageObserver) {
	if !isComparable(o) {
		return
	}
	m.observers.mu.Lock()
	defer m.observers.mu.Unlock()
	for i, p := range m.observers.msgs {
		if p == o {
			m.observers.msgs = append(m.observers.msgs[:i:i], m.observers.msgs[i+1:]...)
			return
		}
	}
}

func (o *observers) peersUpdated(peers []store.PeerObservation) {
	o.mu.RLock()
	targets := append([]PeerObserver(nil), o.peers...)
	o.mu.RUnlock()
	for _, t := range targets {
		isolate("peer", func() { t.PeersUpdated(append([]store.PeerObservation(nil), peers...)) })
	}
}

func (o *observers) messageDelivered(d relay.Delivery) {
	o.mu.RLock()
	targets := append([]MessageObserver(nil), o.msgs...)
	o.mu.RUnlock()
	for _, t := range targets {
		isolate("message", func() { t.MessageDelivered(d) })
	}
}

// isolate keeps a panicking observer from affecting the others.
func isolate(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Observer panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}

// ChanObserver forwards events to buffered channels. Events are dropped when
// a channel is full rather than stalling the session.
type ChanObserver struct {
	Peers      chan []store.PeerObservation
	Deliveries chan relay.Delivery
}

func NewChanObserver(buffer int) *ChanObserver {
	return &ChanObserver{
		Peers:      make(chan []store.PeerObservation, buffer),
		Deliveries: make(chan relay.Delivery, buffer),
	}
}

func (c *ChanObserver) PeersUpdated(peers []store.PeerObservation) {
	select {
	case c.Peers <- peers:
	default:
	}
}

func (c *ChanObserver) MessageDelivered(d relay.Delivery) {
	select {
	case c.Deliveries <- d:
	default:
	}
}

func isComparable(o interface{}) bool {
	return o != nil && reflect.TypeOf(o).Comparable()
}
