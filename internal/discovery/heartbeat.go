package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

type BeaconPacket struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Nick string `json:"nick"`
	Port int    `json:"port"`
	TS   int64  `json:"ts"`
}

type PeerInfo struct {
	ID   string
	Nick string
	Addr string
}

const beaconType = "beacon"

// StartBeacon announces this peer every interval to every port in ports on
// both the broadcast address and localhost.
func StartBeacon(ctx context.Context, interval time.Duration, ports []int, servicePort int, nodeID, nick string) error {
	targets := []string{"255.255.255.255", "127.0.0.1"}
	var conns []*net.UDPConn

	for _, host := range targets {
		for _, p := range ports {
			addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, p))
			if err != nil {
				continue
			}
			conn, err := net.DialUDP("udp", nil, addr)
			if err == nil {
				conns = append(conns, conn)
			}
		}
	}

	if len(conns) == 0 {
		return fmt.Errorf("failed to dial any UDP broadcast addresses")
	}

	slog.Info("Beacon started", "targets", len(conns), "nodeID", nodeID)

	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			data, err := json.Marshal(BeaconPacket{
				Type: beaconType,
				ID:   nodeID,
				Nick: nick,
				Port: servicePort,
				TS:   t.Unix(),
			})
			if err != nil {
				continue
			}
			for _, c := range conns {
				_, _ = c.Write(data)
			}
		}
	}
}

// HeartbeatSource is a ProximitySource backed by UDP beacons heard on the
// local network. A beacon's age stands in for signal strength: a fresh beacon
// reads near 90 and one at the edge of Window near 30.
type HeartbeatSource struct {
	Window time.Duration
	// OnPeer, when set, is called for every beacon heard.
	OnPeer func(PeerInfo)

	mu    sync.Mutex
	heard map[string]time.Time
	now   func() time.Time
}

func NewHeartbeatSource(window time.Duration) *HeartbeatSource {
	return &HeartbeatSource{
		Window: window,
		heard:  make(map[string]time.Time),
		now:    time.Now,
	}
}

func (h *HeartbeatSource) Sample(peerID string, prev float64, seen bool) (float64, bool) {
	h.mu.Lock()
	at, ok := h.heard[peerID]
	h.mu.Unlock()
	if !ok {
		return prev, false
	}
	age := h.now().Sub(at)
	if age > h.Window {
		return prev, false
	}
	return 90 - 60*float64(age)/float64(h.Window), true
}

// Heard records a beacon from info at the current time.
func (h *HeartbeatSource) Heard(info PeerInfo) {
	h.mu.Lock()
	h.heard[info.ID] = h.now()
	h.mu.Unlock()
	if h.OnPeer != nil {
		h.OnPeer(info)
	}
}

// Listen receives beacons on port until ctx is done.
func (h *HeartbeatSource) Listen(ctx context.Context, port int, nodeID string) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("read error: %w", err)
			}
		}

		var packet BeaconPacket
		if err := json.Unmarshal(buf[:n], &packet); err != nil {
			slog.Warn("Failed to unmarshal beacon", "error", err)
			continue
		}
		if packet.Type != beaconType || packet.ID == nodeID {
			continue
		}

		h.Heard(PeerInfo{
			ID:   packet.ID,
			Nick: packet.Nick,
			Addr: fmt.Sprintf("%s:%d", remoteAddr.IP.String(), packet.Port),
		})
	}
}
