package store

import (
	"time"
)

type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateDelivered DeliveryState = "delivered"
)

// Setting is a namespaced key/value blob (e.g. the local identity).
type Setting struct {
	Name  string `gorm:"primaryKey"`
	Value string
}

type Contact struct {
	PeerID      string    `gorm:"primaryKey" json:"peer_id"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username"`
	AvatarRef   string    `json:"avatar_ref,omitempty"`
	Addr        string    `json:"addr,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	ID             string        `gorm:"primaryKey" json:"id"`
	ConversationID string        `gorm:"index" json:"conversation_id"`
	SenderID       string        `gorm:"index" json:"sender_id"`
	RecipientID    string        `gorm:"index" json:"recipient_id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	State          DeliveryState `gorm:"index" json:"delivery_state"`
	DeliveredAt    *time.Time    `json:"delivered_at,omitempty"`
}

func (m Message) Delivered() bool {
	return m.State == StateDelivered
}

// CarriedMessage is a message this peer transports on behalf of its sender.
type CarriedMessage struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	EncryptedContent string    `json:"encrypted_content"`
	SenderID         string    `json:"sender_id"`
	RecipientID      string    `gorm:"index" json:"recipient_id"`
	ConversationID   string    `json:"conversation_id"`
	CreatedAt        time.Time `json:"created_at"`
	RelayPath        []string  `gorm:"serializer:json" json:"relay_path"`
	CarrierID        string    `json:"carrier_id"`
	ExpiresAt        time.Time `gorm:"index" json:"expires_at"`
}

func (c CarriedMessage) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// PeerObservation is one row of the nearby-device cache. Position keeps the
// table's enumeration order across restarts.
type PeerObservation struct {
	PeerID            string    `gorm:"primaryKey" json:"peer_id"`
	Position          int       `json:"-"`
	DisplayName       string    `json:"display_name"`
	SignalQuality     int       `json:"signal_quality"`
	InRange           bool      `json:"in_range"`
	LastSeen          time.Time `json:"last_seen"`
	EstimatedDistance int       `json:"estimated_distance_m"`
}
