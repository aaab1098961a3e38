// Package relay implements the store-and-carry message lifecycle: direct
// delivery to in-range recipients, hand-off to a single in-range carrier
// otherwise, delivery of carried messages once their recipient shows up, and
// expiry of carried messages that never made it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bit2swaz/relaymesh/internal/core"
	"github.com/bit2swaz/relaymesh/internal/store"
	lru "github.com/hashicorp/golang-lru"
	"gorm.io/gorm"
)

// CarryTTL is the fixed lifetime of a carried message.
const CarryTTL = 7 * 24 * time.Hour

const seenCacheSize = 1024

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrNoRecipient  = errors.New("message has no recipient")
	ErrNotRecipient = errors.New("message is not addressed to this peer")
)

// Peers is the part of the peer table the engine consults.
type Peers interface {
	InRange(peerID string) bool
	// InRangeIDs lists in-range peers in table enumeration order.
	InRangeIDs() []string
}

// Courier transmits deliveries and hand-offs to other peers over some link.
type Courier interface {
	Deliver(ctx context.Context, peerID string, msg store.Message) error
	Handoff(ctx context.Context, peerID string, cm store.CarriedMessage) error
}

type Route string

const (
	RouteDirect  Route = "direct"
	RouteCarried Route = "carried"
	RouteInbound Route = "inbound"
)

// Delivery is a message reaching its recipient.
type Delivery struct {
	Message   store.Message
	Route     Route
	RelayPath []string
}

// Handoff is a message assigned to a carrier.
type Handoff struct {
	CarrierID string
	Message   store.CarriedMessage
}

// Report describes what a relay pass changed. It is only produced once the
// changes are durable.
type Report struct {
	Expired   []string
	Delivered []Delivery
	Handoffs  []Handoff
	Failed    int
}

func (r *Report) Empty() bool {
	return r == nil || (len(r.Expired) == 0 && len(r.Delivered) == 0 && len(r.Handoffs) == 0)
}

type Engine struct {
	db     *gorm.DB
	selfID string
	now    func() time.Time
	seen   *lru.Cache
}

func NewEngine(db *gorm.DB, selfID string, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	seen, _ := lru.New(seenCacheSize)
	return &Engine{
		db:     db,
		selfID: selfID,
		now:    now,
		seen:   seen,
	}
}

func (e *Engine) SelfID() string {
	return e.selfID
}

// pass accumulates one evaluation before it is written.
type pass struct {
	now     time.Time
	changes store.RelayChanges
	report  Report
	// carried holds every id present in the carried-set at the start of the
	// pass plus those assigned during it.
	carried map[string]bool
	direct  map[string]bool
}

func (e *Engine) newPass() *pass {
	now := e.now()
	return &pass{
		now:     now,
		changes: store.RelayChanges{At: now},
		carried: make(map[string]bool),
		direct:  make(map[string]bool),
	}
}

func (e *Engine) commit(p *pass) (*Report, error) {
	if err := store.ApplyRelay(e.db, p.changes); err != nil {
		return nil, fmt.Errorf("failed to persist relay pass: %w", err)
	}
	return &p.report, nil
}

// Send stores a new message for recipientID and immediately evaluates it
// against peers. The message is durable before any relay attempt; if the
// evaluation cannot be persisted the message stays pending for the next tick.
func (e *Engine) Send(peers Peers, recipientID, content, conversationID string) (string, *Report, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil, ErrEmptyContent
	}
	if recipientID == "" {
		return "", nil, ErrNoRecipient
	}
	if conversationID == "" {
		conversationID = core.ConversationID(e.selfID, recipientID)
	}

	msg := store.Message{
		ID:             core.NewMessageID(),
		ConversationID: conversationID,
		SenderID:       e.selfID,
		RecipientID:    recipientID,
		Content:        content,
		CreatedAt:      e.now(),
		State:          store.StatePending,
	}
	if err := store.SaveMessage(e.db, &msg); err != nil {
		return "", nil, fmt.Errorf("failed to save message: %w", err)
	}

	p := e.newPass()
	e.isolate(p, msg.ID, func() { e.routePending(p, peers, msg) })
	report, err := e.commit(p)
	if err != nil {
		slog.Error("Failed to route new message", "id", msg.ID, "error", err)
		return msg.ID, &Report{}, nil
	}
	return msg.ID, report, nil
}

// Tick runs one relay pass: expiry sweep, pending authored messages, then the
// carried-set. A storage failure skips the whole pass.
func (e *Engine) Tick(peers Peers) (*Report, error) {
	carried, err := store.GetCarried(e.db)
	if err != nil {
		return nil, fmt.Errorf("failed to load carried messages: %w", err)
	}
	pending, err := store.GetPendingOutbound(e.db, e.selfID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending messages: %w", err)
	}

	p := e.newPass()

	live := make([]store.CarriedMessage, 0, len(carried))
	for _, cm := range carried {
		p.carried[cm.ID] = true
		if cm.Expired(p.now) {
			p.changes.Removed = append(p.changes.Removed, cm.ID)
			p.report.Expired = append(p.report.Expired, cm.ID)
			continue
		}
		live = append(live, cm)
	}

	for _, msg := range pending {
		msg := msg
		e.isolate(p, msg.ID, func() { e.routePending(p, peers, msg) })
	}

	for _, cm := range live {
		cm := cm
		e.isolate(p, cm.ID, func() { e.deliverCarried(p, peers, cm) })
	}

	return e.commit(p)
}

// isolate keeps one misbehaving message from aborting the pass.
func (e *Engine) isolate(p *pass, id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.report.Failed++
			slog.Error("Relay failed for message", "id", id, "panic", r)
		}
	}()
	fn()
}

func (e *Engine) routePending(p *pass, peers Peers, msg store.Message) {
	if peers.InRange(msg.RecipientID) {
		at := p.now
		msg.State = store.StateDelivered
		msg.DeliveredAt = &at
		p.changes.Delivered = append(p.changes.Delivered, msg.ID)
		p.direct[msg.ID] = true
		p.report.Delivered = append(p.report.Delivered, Delivery{Message: msg, Route: RouteDirect})
		return
	}
	if p.carried[msg.ID] {
		return
	}

	carrier := SelectCarrier(peers, msg.SenderID, msg.RecipientID)
	if carrier == "" {
		return
	}
	cm := store.CarriedMessage{
		ID:               msg.ID,
		EncryptedContent: core.Obfuscate(msg.Content),
		SenderID:         msg.SenderID,
		RecipientID:      msg.RecipientID,
		ConversationID:   msg.ConversationID,
		CreatedAt:        p.now,
		RelayPath:        []string{e.selfID},
		CarrierID:        carrier,
		ExpiresAt:        p.now.Add(CarryTTL),
	}
	p.carried[msg.ID] = true
	p.changes.Carried = append(p.changes.Carried, cm)
	p.report.Handoffs = append(p.report.Handoffs, Handoff{CarrierID: carrier, Message: cm})
}

func (e *Engine) deliverCarried(p *pass, peers Peers, cm store.CarriedMessage) {
	if !peers.InRange(cm.RecipientID) {
		return
	}
	p.changes.Removed = append(p.changes.Removed, cm.ID)
	if cm.SenderID == e.selfID {
		p.changes.Delivered = append(p.changes.Delivered, cm.ID)
	}
	if p.direct[cm.ID] {
		return
	}
	at := p.now
	p.report.Delivered = append(p.report.Delivered, Delivery{
		Message: store.Message{
			ID:             cm.ID,
			ConversationID: cm.ConversationID,
			SenderID:       cm.SenderID,
			RecipientID:    cm.RecipientID,
			Content:        core.Reveal(cm.EncryptedContent),
			CreatedAt:      cm.CreatedAt,
			State:          store.StateDelivered,
			DeliveredAt:    &at,
		},
		Route:     RouteCarried,
		RelayPath: append([]string(nil), cm.RelayPath...),
	})
}

// SelectCarrier returns the first in-range peer that is neither the sender
// nor the recipient, or "" when there is none.
func SelectCarrier(peers Peers, senderID, recipientID string) string {
	for _, id := range peers.InRangeIDs() {
		if id != senderID && id != recipientID {
			return id
		}
	}
	return ""
}

// Accept takes on carrier duty for a message handed over by another peer.
// The relay path is kept as received; the handing peer appended itself.
// Accepting an id already in the carried-set is a no-op.
func (e *Engine) Accept(cm store.CarriedMessage) (bool, error) {
	now := e.now()
	if cm.CreatedAt.IsZero() {
		cm.CreatedAt = now
	}
	if cm.ExpiresAt.IsZero() {
		cm.ExpiresAt = cm.CreatedAt.Add(CarryTTL)
	}
	if cm.Expired(now) {
		return false, nil
	}
	cm.CarrierID = e.selfID
	inserted, err := store.InsertCarried(e.db, &cm)
	if err != nil {
		return false, fmt.Errorf("failed to accept carried message: %w", err)
	}
	return inserted, nil
}

// Receive stores a message delivered to this peer. It reports whether the
// message is new.
func (e *Engine) Receive(msg store.Message) (bool, error) {
	if msg.RecipientID != e.selfID {
		return false, ErrNotRecipient
	}
	if e.seen.Contains(msg.ID) {
		return false, nil
	}
	now := e.now()
	msg.State = store.StateDelivered
	if msg.DeliveredAt == nil {
		msg.DeliveredAt = &now
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	inserted, err := store.SaveMessageIfAbsent(e.db, &msg)
	if err != nil {
		return false, fmt.Errorf("failed to store received message: %w", err)
	}
	e.seen.Add(msg.ID, struct{}{})
	return inserted, nil
}

// Cleanup removes every carried message past its expiry.
func (e *Engine) Cleanup() (int64, error) {
	return store.PurgeExpired(e.db, e.now())
}

func (e *Engine) CarriedCount() (int64, error) {
	return store.CountCarried(e.db)
}
