package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PeerIDBytes is the size of the random identity before hex encoding.
const PeerIDBytes = 8

// NewPeerID returns a fresh random peer identity.
func NewPeerID() (string, error) {
	buf := make([]byte, PeerIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// LoadOrCreateIdentity retrieves the local peer id from the store or generates
// and persists a new one. The id is never regenerated while the store exists.
func LoadOrCreateIdentity(db *gorm.DB) (string, error) {
	id, ok, err := store.GetSetting(db, store.KeyIdentity)
	if err != nil {
		return "", fmt.Errorf("failed to read identity: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id, err = NewPeerID()
	if err != nil {
		return "", err
	}
	if err := store.PutSetting(db, store.KeyIdentity, id); err != nil {
		return "", fmt.Errorf("failed to write identity: %w", err)
	}
	return id, nil
}

func NewMessageID() string {
	return uuid.New().String()
}

// ConversationID names the two-party conversation between a and b
// independently of who is asking.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
