package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Manager tracks the link's listener and open connections.
type Manager struct {
	conns    sync.Map // map[string]net.Conn (key: remoteAddr)
	mu       sync.Mutex
	listener net.Listener
}

func NewManager() *Manager {
	return &Manager{}
}

// Listen starts a TCP listener on addr and spawns a goroutine per incoming
// connection running handler. It returns the bound address.
func (m *Manager) Listen(addr string, handler func(net.Conn)) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	m.mu.Lock()
	m.listener = listener
	m.mu.Unlock()

	go func() {
		defer listener.Close()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Warn("Accept error", "error", err)
				continue
			}

			m.registerConn(conn)
			go func(c net.Conn) {
				defer m.unregisterConn(c)
				defer c.Close()
				handler(c)
			}(conn)
		}
	}()

	return listener.Addr(), nil
}

// Dial connects to a remote address, bounded by ctx.
func (m *Manager) Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return conn, nil
}

func (m *Manager) registerConn(conn net.Conn) {
	m.conns.Store(conn.RemoteAddr().String(), conn)
}

func (m *Manager) unregisterConn(conn net.Conn) {
	m.conns.Delete(conn.RemoteAddr().String())
}

// CloseAll stops the listener and closes all active connections.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	if m.listener != nil {
		m.listener.Close()
		m.listener = nil
	}
	m.mu.Unlock()
	m.conns.Range(func(key, value interface{}) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.Close()
		}
		return true
	})
}
