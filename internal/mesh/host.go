package mesh

import (
	"context"
	"sync"
)

// Host owns at most one active session. Switching to another session stops
// and discards the current one first, so two identities never share a peer
// table or carried-set.
type Host struct {
	mu      sync.Mutex
	current *Manager
}

// Switch makes m the active session and starts it.
func (h *Host) Switch(ctx context.Context, m *Manager) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current != m {
		h.current.Stop()
	}
	h.current = m
	return m.Start(ctx)
}

// Current returns the active session, or nil.
func (h *Host) Current() *Manager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Logout stops and discards the active session.
func (h *Host) Logout() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		h.current.Stop()
		h.current = nil
	}
}
