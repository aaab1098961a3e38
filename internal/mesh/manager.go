// Package mesh runs a relay session: it schedules discovery and relay passes,
// owns the peer table and fans results out to observers.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bit2swaz/relaymesh/internal/core"
	"github.com/bit2swaz/relaymesh/internal/discovery"
	"github.com/bit2swaz/relaymesh/internal/metrics"
	"github.com/bit2swaz/relaymesh/internal/relay"
	"github.com/bit2swaz/relaymesh/internal/signal"
	"github.com/bit2swaz/relaymesh/internal/store"
	"gorm.io/gorm"
)

const (
	DefaultScanInterval  = 5 * time.Second
	DefaultRelayInterval = 3 * time.Second

	courierTimeout = 5 * time.Second
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

type Options struct {
	ScanInterval  time.Duration
	RelayInterval time.Duration
	// Source defaults to a Simulator seeded from the clock.
	Source discovery.ProximitySource
	// Courier, when set, carries deliveries and hand-offs to other peers.
	Courier relay.Courier
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Manager is one mesh session for one local identity.
type Manager struct {
	db     *gorm.DB
	selfID string
	opts   Options

	// mu is the single boundary around the peer table, the smoothing windows
	// and every relay evaluation.
	mu       sync.Mutex
	table    *discovery.Table
	smoother *signal.Smoother
	scanner  *discovery.Scanner
	engine   *relay.Engine

	lifeMu sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup

	observers observers
}

func NewManager(db *gorm.DB, opts Options) (*Manager, error) {
	selfID, err := core.LoadOrCreateIdentity(db)
	if err != nil {
		return nil, err
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = DefaultScanInterval
	}
	if opts.RelayInterval <= 0 {
		opts.RelayInterval = DefaultRelayInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Source == nil {
		opts.Source = discovery.NewSimulator(opts.Now().UnixNano(), 0)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	table := discovery.NewTable()
	smoother := signal.NewSmoother()
	return &Manager{
		db:       db,
		selfID:   selfID,
		opts:     opts,
		table:    table,
		smoother: smoother,
		scanner:  discovery.NewScanner(selfID, opts.Source, smoother, table, opts.Now),
		engine:   relay.NewEngine(db, selfID, opts.Now),
	}, nil
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Start purges expired carried messages, schedules the discovery and relay
// tasks and runs one discovery pass right away. Calling Start on a running
// session does nothing.
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.State() != StateStopped {
		return nil
	}
	m.state.Store(int32(StateStarting))

	if n, err := m.engine.Cleanup(); err != nil {
		slog.Error("Failed to purge expired carried messages", "error", err)
	} else if n > 0 {
		slog.Info("Purged expired carried messages", "count", n)
		m.opts.Metrics.Expired.Add(float64(n))
	}

	if cached, err := store.LoadPeerTable(m.db); err != nil {
		slog.Warn("Failed to restore peer cache", "error", err)
	} else {
		m.mu.Lock()
		m.table.Replace(cached)
		m.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(2)
	go m.every(runCtx, m.opts.ScanInterval, "discovery", func(ctx context.Context) error {
		_, err := m.ScanOnce()
		return err
	})
	go m.every(runCtx, m.opts.RelayInterval, "relay", func(ctx context.Context) error {
		_, err := m.RelayOnce(ctx)
		return err
	})

	if _, err := m.ScanOnce(); err != nil {
		slog.Error("Initial discovery pass failed", "error", err)
	}

	m.state.Store(int32(StateRunning))
	slog.Info("Mesh session started", "peer", m.selfID)
	return nil
}

// Stop cancels both periodic tasks and waits for them, then clears the live
// peer table. Persisted messages and the carried-set are kept. Observers must
// not call Stop from their callbacks.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.State() == StateStopped {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.table.Clear()
	m.smoother.Reset()
	m.mu.Unlock()

	m.state.Store(int32(StateStopped))
	slog.Info("Mesh session stopped", "peer", m.selfID)
}

func (m *Manager) every(ctx context.Context, interval time.Duration, task string, fn func(context.Context) error) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				m.opts.Metrics.TickFailures.WithLabelValues(task).Inc()
				slog.Error("Tick skipped", "task", task, "error", err)
			}
		}
	}
}

// ScanOnce runs one discovery pass and returns the resulting peer table.
func (m *Manager) ScanOnce() ([]store.PeerObservation, error) {
	contacts, err := store.GetContacts(m.db)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}

	m.mu.Lock()
	pass := m.scanner.Scan(contacts)
	if err := store.SavePeerTable(m.db, pass.Observations, pass.Seen); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to persist peer table: %w", err)
	}
	pass.Commit()
	snapshot := m.table.Snapshot()
	inRange := len(m.table.InRangeIDs())
	m.mu.Unlock()

	m.opts.Metrics.Scans.Inc()
	m.opts.Metrics.InRange.Set(float64(inRange))
	m.observers.peersUpdated(snapshot)
	return snapshot, nil
}

// RelayOnce runs one relay pass.
func (m *Manager) RelayOnce(ctx context.Context) (*relay.Report, error) {
	m.mu.Lock()
	report, err := m.engine.Tick(m.table)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.opts.Metrics.RelayTicks.Inc()
	m.afterRelay(ctx, report)
	return report, nil
}

// Send queues content for recipientID. Empty content is rejected with
// relay.ErrEmptyContent and an empty id.
func (m *Manager) Send(ctx context.Context, recipientID, content, conversationID string) (string, error) {
	m.mu.Lock()
	id, report, err := m.engine.Send(m.table, recipientID, content, conversationID)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	slog.Info("Message queued", "id", id, "recipient", recipientID)
	m.afterRelay(ctx, report)
	return id, nil
}

// Accept takes carrier duty for a message handed over by another peer. A
// message addressed to this peer is received instead.
func (m *Manager) Accept(cm store.CarriedMessage) (bool, error) {
	if cm.RecipientID == m.selfID {
		return m.Receive(store.Message{
			ID:             cm.ID,
			ConversationID: cm.ConversationID,
			SenderID:       cm.SenderID,
			RecipientID:    cm.RecipientID,
			Content:        core.Reveal(cm.EncryptedContent),
			CreatedAt:      cm.CreatedAt,
		})
	}
	m.mu.Lock()
	accepted, err := m.engine.Accept(cm)
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	if accepted {
		slog.Info("Accepted carrier duty", "id", cm.ID, "recipient", cm.RecipientID, "path", cm.RelayPath)
		m.refreshCarried()
	}
	return accepted, nil
}

// Receive stores a message delivered to this peer and notifies observers the
// first time a given id arrives.
func (m *Manager) Receive(msg store.Message) (bool, error) {
	m.mu.Lock()
	fresh, err := m.engine.Receive(msg)
	m.mu.Unlock()
	if err != nil || !fresh {
		return false, err
	}
	stored, ok, err := store.GetMessage(m.db, msg.ID)
	if err == nil && ok {
		msg = stored
	}
	m.opts.Metrics.Deliveries.WithLabelValues(string(relay.RouteInbound)).Inc()
	m.observers.messageDelivered(relay.Delivery{Message: msg, Route: relay.RouteInbound})
	return true, nil
}

func (m *Manager) afterRelay(ctx context.Context, report *relay.Report) {
	if report == nil {
		return
	}
	met := m.opts.Metrics
	met.Expired.Add(float64(len(report.Expired)))
	met.Handoffs.Add(float64(len(report.Handoffs)))
	for _, id := range report.Expired {
		slog.Info("Carried message expired", "id", id)
	}
	for _, d := range report.Delivered {
		met.Deliveries.WithLabelValues(string(d.Route)).Inc()
		slog.Info("Message delivered", "id", d.Message.ID, "route", d.Route, "recipient", d.Message.RecipientID)
	}
	if !report.Empty() {
		m.refreshCarried()
	}

	for _, d := range report.Delivered {
		m.observers.messageDelivered(d)
	}
	m.dispatch(ctx, report)
}

func (m *Manager) dispatch(ctx context.Context, report *relay.Report) {
	if m.opts.Courier == nil {
		return
	}
	for _, h := range report.Handoffs {
		cctx, cancel := context.WithTimeout(ctx, courierTimeout)
		if err := m.opts.Courier.Handoff(cctx, h.CarrierID, h.Message); err != nil {
			slog.Warn("Hand-off not transmitted", "id", h.Message.ID, "carrier", h.CarrierID, "error", err)
		}
		cancel()
	}
	for _, d := range report.Delivered {
		cctx, cancel := context.WithTimeout(ctx, courierTimeout)
		if err := m.opts.Courier.Deliver(cctx, d.Message.RecipientID, d.Message); err != nil {
			slog.Warn("Delivery not transmitted", "id", d.Message.ID, "recipient", d.Message.RecipientID, "error", err)
		}
		cancel()
	}
}

func (m *Manager) refreshCarried() {
	if n, err := m.engine.CarriedCount(); err == nil {
		m.opts.Metrics.Carried.Set(float64(n))
	}
}
