package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bit2swaz/relaymesh/internal/relay"
	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	historyLimit = 50
	sendTimeout  = 5 * time.Second
)

// Session is what the radar reads from and sends through.
type Session interface {
	Identity() string
	Peers() []store.PeerObservation
	Messages(limit int) ([]store.Message, error)
	Send(ctx context.Context, recipientID, content, conversationID string) (string, error)
}

type tickMsg time.Time

type peersMsg []store.PeerObservation

type deliveryMsg relay.Delivery

type sentMsg struct {
	id  string
	err error
}

type model struct {
	session     Session
	nodeID      string
	qr          string
	peers       []store.PeerObservation
	selected    string
	peerCh      <-chan []store.PeerObservation
	deliveryCh  <-chan relay.Delivery
	viewport    viewport.Model
	textInput   textinput.Model
	stream      string
	status      string
	lastInbound time.Time
	width       int
	height      int
	ready       bool
}

func initialModel(s Session, peerCh <-chan []store.PeerObservation, deliveryCh <-chan relay.Delivery, qr string) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, TAB picks the peer..."
	ti.Focus()
	ti.CharLimit = 280
	ti.Width = 40

	peers := s.Peers()
	sortPeers(peers)
	m := model{
		session:    s,
		nodeID:     s.Identity(),
		qr:         qr,
		peers:      peers,
		peerCh:     peerCh,
		deliveryCh: deliveryCh,
		textInput:  ti,
	}
	if len(peers) > 0 {
		m.selected = peers[0].PeerID
	}
	m.stream = m.buildStream()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick(), waitForPeers(m.peerCh), waitForDelivery(m.deliveryCh))
}

func tick() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForPeers(ch <-chan []store.PeerObservation) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		peers, ok := <-ch
		if !ok {
			return nil
		}
		return peersMsg(peers)
	}
}

func waitForDelivery(ch <-chan relay.Delivery) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		d, ok := <-ch
		if !ok {
			return nil
		}
		return deliveryMsg(d)
	}
}

func (m model) send(recipientID, content string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		id, err := m.session.Send(ctx, recipientID, content, "")
		return sentMsg{id: id, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		cmds  []tea.Cmd
	)

	switch msg := msg.(type) {
	case tickMsg:
		m.refreshStream()
		return m, tick()

	case peersMsg:
		m.setPeers(msg)
		return m, waitForPeers(m.peerCh)

	case deliveryMsg:
		if msg.Route == relay.RouteInbound {
			m.lastInbound = time.Now()
		}
		m.refreshStream()
		return m, waitForDelivery(m.deliveryCh)

	case sentMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("send failed: %v", msg.err)
		} else {
			m.status = fmt.Sprintf("queued %s", shortID(msg.id))
		}
		m.refreshStream()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			m.selectNext()
			return m, nil
		case tea.KeyEnter:
			txt := m.textInput.Value()
			if txt == "" {
				break
			}
			if m.selected == "" {
				m.status = "no peer selected"
				break
			}
			m.textInput.Reset()
			cmds = append(cmds, m.send(m.selected, txt))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		streamHeight := msg.Height - 4
		if !m.ready {
			m.viewport = viewport.New(m.streamWidth(), streamHeight)
			m.viewport.SetContent(m.stream)
			m.viewport.GotoBottom()
			m.ready = true
		} else {
			m.viewport.Width = m.streamWidth()
			m.viewport.Height = streamHeight
		}
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, tiCmd, vpCmd)

	return m, tea.Batch(cmds...)
}

func (m *model) setPeers(peers []store.PeerObservation) {
	sorted := make([]store.PeerObservation, len(peers))
	copy(sorted, peers)
	sortPeers(sorted)
	m.peers = sorted
	for _, p := range sorted {
		if p.PeerID == m.selected {
			return
		}
	}
	m.selected = ""
	if len(sorted) > 0 {
		m.selected = sorted[0].PeerID
	}
}

func (m *model) selectNext() {
	if len(m.peers) == 0 {
		m.selected = ""
		return
	}
	for i, p := range m.peers {
		if p.PeerID == m.selected {
			m.selected = m.peers[(i+1)%len(m.peers)].PeerID
			return
		}
	}
	m.selected = m.peers[0].PeerID
}

func (m *model) refreshStream() {
	stream := m.buildStream()
	if stream == m.stream {
		return
	}
	m.stream = stream
	if m.ready {
		m.viewport.SetContent(m.stream)
		m.viewport.GotoBottom()
	}
}

func (m model) streamWidth() int {
	return int(float64(m.width) * 0.55)
}

// sortPeers orders the radar: in-range peers first, then by signal, then by id.
// The display order is independent of the table order used for carrier selection.
func sortPeers(peers []store.PeerObservation) {
	sort.SliceStable(peers, func(i, j int) bool {
		if peers[i].InRange != peers[j].InRange {
			return peers[i].InRange
		}
		if peers[i].SignalQuality != peers[j].SignalQuality {
			return peers[i].SignalQuality > peers[j].SignalQuality
		}
		return peers[i].PeerID < peers[j].PeerID
	})
}

// StartTUI runs the radar until the user quits.
func StartTUI(s Session, peerCh <-chan []store.PeerObservation, deliveryCh <-chan relay.Delivery, qr string) error {
	p := tea.NewProgram(initialModel(s, peerCh, deliveryCh, qr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
