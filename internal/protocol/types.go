package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/bit2swaz/relaymesh/internal/store"
)

// Packet types
const (
	TypeHandoff = "HANDOFF"
	TypeDeliver = "DELIVER"
)

// Packet is the generic container for everything sent over a link.
type Packet struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Payload []byte `json:"payload"`
}

// HandoffPayload asks the receiving peer to carry a message.
type HandoffPayload struct {
	Message store.CarriedMessage `json:"message"`
}

// DeliverPayload hands a message to its recipient.
type DeliverPayload struct {
	Message store.Message `json:"message"`
}

func Encode(typ, from string, payload interface{}) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return json.Marshal(Packet{Type: typ, From: from, Payload: p})
}

func Decode(data []byte) (Packet, error) {
	var packet Packet
	if err := json.Unmarshal(data, &packet); err != nil {
		return Packet{}, fmt.Errorf("failed to unmarshal packet: %w", err)
	}
	return packet, nil
}
