package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestMessagePersistence(t *testing.T) {
	dbPath := openTestDB(t)
	db, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	msg := &Message{
		ID:             "msg1",
		ConversationID: "conv1",
		SenderID:       "sender1",
		RecipientID:    "recipient1",
		Content:        "Hello World",
		CreatedAt:      time.Now(),
		State:          StatePending,
	}
	if err := SaveMessage(db, msg); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	if err := Close(db); err != nil {
		t.Fatalf("Failed to close db: %v", err)
	}
	db2, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to re-open db: %v", err)
	}
	defer Close(db2)

	got, ok, err := GetMessage(db2, "msg1")
	if err != nil || !ok {
		t.Fatalf("Failed to retrieve message: ok=%v err=%v", ok, err)
	}
	if got.Content != msg.Content {
		t.Errorf("Expected content %q, got %q", msg.Content, got.Content)
	}
	if got.State != StatePending {
		t.Errorf("Expected state %q, got %q", StatePending, got.State)
	}

	pending, err := GetPendingOutbound(db2, "sender1")
	if err != nil {
		t.Fatalf("GetPendingOutbound failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending message, got %d", len(pending))
	}
}

func TestMarkDeliveredHappensOnce(t *testing.T) {
	db, err := Init(openTestDB(t))
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	defer Close(db)

	if err := SaveMessage(db, &Message{ID: "m", SenderID: "a", RecipientID: "b", State: StatePending, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	first := time.Now()
	flipped, err := MarkDelivered(db, "m", first)
	if err != nil || !flipped {
		t.Fatalf("Expected first MarkDelivered to flip, flipped=%v err=%v", flipped, err)
	}
	flipped, err = MarkDelivered(db, "m", first.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	if flipped {
		t.Error("Expected second MarkDelivered to be a no-op")
	}
	got, _, _ := GetMessage(db, "m")
	if !got.Delivered() {
		t.Errorf("Expected message to be delivered, got %q", got.State)
	}
	if got.DeliveredAt == nil || got.DeliveredAt.Sub(first).Abs() > time.Second {
		t.Errorf("Expected DeliveredAt to keep the first timestamp, got %v", got.DeliveredAt)
	}
}

func TestCarriedInsertIsIdempotent(t *testing.T) {
	db, err := Init(openTestDB(t))
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	defer Close(db)

	now := time.Now()
	cm := CarriedMessage{
		ID:          "c1",
		SenderID:    "a",
		RecipientID: "b",
		CreatedAt:   now,
		RelayPath:   []string{"a"},
		ExpiresAt:   now.Add(7 * 24 * time.Hour),
	}
	inserted, err := InsertCarried(db, &cm)
	if err != nil || !inserted {
		t.Fatalf("Expected first insert to succeed, inserted=%v err=%v", inserted, err)
	}
	dup := cm
	dup.RelayPath = []string{"a", "a"}
	inserted, err = InsertCarried(db, &dup)
	if err != nil {
		t.Fatalf("Second insert failed: %v", err)
	}
	if inserted {
		t.Error("Expected duplicate insert to be a no-op")
	}
	carried, err := GetCarried(db)
	if err != nil {
		t.Fatalf("GetCarried failed: %v", err)
	}
	if len(carried) != 1 {
		t.Fatalf("Expected 1 carried message, got %d", len(carried))
	}
	if len(carried[0].RelayPath) != 1 || carried[0].RelayPath[0] != "a" {
		t.Errorf("Expected relay path [a], got %v", carried[0].RelayPath)
	}
}

func TestPurgeExpired(t *testing.T) {
	db, err := Init(openTestDB(t))
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	defer Close(db)

	now := time.Now()
	stale := CarriedMessage{ID: "old", CreatedAt: now.Add(-15 * 24 * time.Hour), ExpiresAt: now.Add(-8 * 24 * time.Hour)}
	fresh := CarriedMessage{ID: "new", CreatedAt: now, ExpiresAt: now.Add(7 * 24 * time.Hour)}
	InsertCarried(db, &stale)
	InsertCarried(db, &fresh)

	n, err := PurgeExpired(db, now)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 purged message, got %d", n)
	}
	count, _ := CountCarried(db)
	if count != 1 {
		t.Errorf("Expected 1 remaining carried message, got %d", count)
	}
}

func TestPeerTableRoundTripKeepsOrder(t *testing.T) {
	db, err := Init(openTestDB(t))
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	defer Close(db)

	if err := UpsertContact(db, Contact{PeerID: "p2", DisplayName: "Bob"}); err != nil {
		t.Fatalf("Failed to insert contact: %v", err)
	}
	seenAt := time.Now()
	obs := []PeerObservation{
		{PeerID: "p2", Position: 0, SignalQuality: 70, InRange: true},
		{PeerID: "p1", Position: 1, SignalQuality: 10},
	}
	if err := SavePeerTable(db, obs, map[string]time.Time{"p2": seenAt}); err != nil {
		t.Fatalf("SavePeerTable failed: %v", err)
	}
	// Saving again replaces rather than appends.
	if err := SavePeerTable(db, obs, nil); err != nil {
		t.Fatalf("SavePeerTable failed: %v", err)
	}
	loaded, err := LoadPeerTable(db)
	if err != nil {
		t.Fatalf("LoadPeerTable failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 observations, got %d", len(loaded))
	}
	if loaded[0].PeerID != "p2" || loaded[1].PeerID != "p1" {
		t.Errorf("Expected order [p2 p1], got [%s %s]", loaded[0].PeerID, loaded[1].PeerID)
	}
	c, ok, err := GetContact(db, "p2")
	if err != nil || !ok {
		t.Fatalf("GetContact failed: ok=%v err=%v", ok, err)
	}
	if c.LastSeen.Sub(seenAt).Abs() > time.Second {
		t.Errorf("Expected contact LastSeen %v, got %v", seenAt, c.LastSeen)
	}
}

func TestUpsertContactKeepsCreatedAt(t *testing.T) {
	db, err := Init(openTestDB(t))
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	defer Close(db)

	created := time.Now().Add(-time.Hour)
	UpsertContact(db, Contact{PeerID: "p1", DisplayName: "Alice", CreatedAt: created})
	UpsertContact(db, Contact{PeerID: "p1", DisplayName: "Alice B."})

	c, _, _ := GetContact(db, "p1")
	if c.DisplayName != "Alice B." {
		t.Errorf("Expected display name to be updated, got %q", c.DisplayName)
	}
	if c.CreatedAt.Sub(created).Abs() > time.Second {
		t.Errorf("Expected CreatedAt %v to be preserved, got %v", created, c.CreatedAt)
	}
}
