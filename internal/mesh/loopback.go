package mesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/bit2swaz/relaymesh/internal/relay"
	"github.com/bit2swaz/relaymesh/internal/store"
)

// LoopbackNetwork is an in-process relay.Courier connecting sessions that
// share one process, used by simulations and tests.
type LoopbackNetwork struct {
	mu    sync.RWMutex
	peers map[string]*Manager
}

var _ relay.Courier = (*LoopbackNetwork)(nil)

func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{peers: make(map[string]*Manager)}
}

func (n *LoopbackNetwork) Join(m *Manager) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[m.Identity()] = m
}

func (n *LoopbackNetwork) Leave(peerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, peerID)
}

func (n *LoopbackNetwork) peer(peerID string) (*Manager, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	m, ok := n.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("peer %s is not on the loopback network", peerID)
	}
	return m, nil
}

func (n *LoopbackNetwork) Deliver(ctx context.Context, peerID string, msg store.Message) error {
	m, err := n.peer(peerID)
	if err != nil {
		return err
	}
	_, err = m.Receive(msg)
	return err
}

func (n *LoopbackNetwork) Handoff(ctx context.Context, peerID string, cm store.CarriedMessage) error {
	m, err := n.peer(peerID)
	if err != nil {
		return err
	}
	_, err = m.Accept(cm)
	return err
}
