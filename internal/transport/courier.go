package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/bit2swaz/relaymesh/internal/protocol"
	"github.com/bit2swaz/relaymesh/internal/relay"
	"github.com/bit2swaz/relaymesh/internal/store"
)

var ErrNoRoute = errors.New("no link address for peer")

// Resolver maps a peer id to its link address.
type Resolver func(peerID string) (string, bool)

// Handler consumes packets arriving over the link.
type Handler interface {
	Accept(cm store.CarriedMessage) (bool, error)
	Receive(msg store.Message) (bool, error)
}

// Courier sends deliveries and hand-offs to peers over TCP, one connection
// per packet.
type Courier struct {
	tm      *Manager
	selfID  string
	resolve Resolver
}

var _ relay.Courier = (*Courier)(nil)

func NewCourier(tm *Manager, selfID string, resolve Resolver) *Courier {
	return &Courier{tm: tm, selfID: selfID, resolve: resolve}
}

func (c *Courier) Deliver(ctx context.Context, peerID string, msg store.Message) error {
	return c.send(ctx, peerID, protocol.TypeDeliver, protocol.DeliverPayload{Message: msg})
}

func (c *Courier) Handoff(ctx context.Context, peerID string, cm store.CarriedMessage) error {
	return c.send(ctx, peerID, protocol.TypeHandoff, protocol.HandoffPayload{Message: cm})
}

func (c *Courier) send(ctx context.Context, peerID, typ string, payload interface{}) error {
	addr, ok := c.resolve(peerID)
	if !ok || addr == "" {
		return fmt.Errorf("%w: %s", ErrNoRoute, peerID)
	}
	data, err := protocol.Encode(typ, c.selfID, payload)
	if err != nil {
		return err
	}
	conn, err := c.tm.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()
	return WriteFrame(conn, data)
}

// Serve reads packets from conn and hands them to h until the connection
// closes. A bad packet is logged and skipped.
func Serve(conn net.Conn, h Handler) {
	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return
		}
		if err := dispatch(frame, h); err != nil {
			slog.Warn("Dropped link packet", "remote", conn.RemoteAddr(), "error", err)
		}
	}
}

func dispatch(frame []byte, h Handler) error {
	packet, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	switch packet.Type {
	case protocol.TypeHandoff:
		var p protocol.HandoffPayload
		if err := json.Unmarshal(packet.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal HANDOFF payload: %w", err)
		}
		_, err = h.Accept(p.Message)
		return err
	case protocol.TypeDeliver:
		var p protocol.DeliverPayload
		if err := json.Unmarshal(packet.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal DELIVER payload: %w", err)
		}
		_, err = h.Receive(p.Message)
		return err
	default:
		return fmt.Errorf("unknown packet type %q", packet.Type)
	}
}
