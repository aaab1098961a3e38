package mesh

import (
	"github.com/bit2swaz/relaymesh/internal/store"
)

// Identity returns the local peer id.
func (m *Manager) Identity() string {
	return m.selfID
}

// Peers returns a snapshot of the live peer table.
func (m *Manager) Peers() []store.PeerObservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Snapshot()
}

func (m *Manager) IsInRange(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.InRange(peerID)
}

// SignalOf returns the current signal quality of peerID, or 0 when the peer
// is unknown.
func (m *Manager) SignalOf(peerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.table.Get(peerID)
	if !ok {
		return 0
	}
	return o.SignalQuality
}

// DistanceOf returns the estimated distance to peerID in meters, or -1 when
// the peer is unknown.
func (m *Manager) DistanceOf(peerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.table.Get(peerID)
	if !ok {
		return -1
	}
	return o.EstimatedDistance
}

func (m *Manager) CarriedCount() (int64, error) {
	return store.CountCarried(m.db)
}

func (m *Manager) Carried() ([]store.CarriedMessage, error) {
	return store.GetCarried(m.db)
}

// Messages returns the latest messages, newest first.
func (m *Manager) Messages(limit int) ([]store.Message, error) {
	return store.GetMessages(m.db, limit)
}

func (m *Manager) Message(id string) (store.Message, bool, error) {
	return store.GetMessage(m.db, id)
}

func (m *Manager) Conversation(conversationID string) ([]store.Message, error) {
	return store.GetConversation(m.db, conversationID)
}

func (m *Manager) Contacts() ([]store.Contact, error) {
	return store.GetContacts(m.db)
}

// AddContact records a peer so discovery starts sampling it.
func (m *Manager) AddContact(c store.Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.opts.Now()
	}
	return store.UpsertContact(m.db, c)
}
