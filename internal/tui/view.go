package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	// Colors
	colorGreen = lipgloss.Color("2")
	colorBlack = lipgloss.Color("0")
	colorGray  = lipgloss.Color("240")
	colorRed   = lipgloss.Color("196")
	colorWhite = lipgloss.Color("231")

	inRangeStyle  = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	outRangeStyle = lipgloss.NewStyle().Foreground(colorGray)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorBlack).
			Background(colorGreen).
			Padding(0, 1)

	flashStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorRed)

	pendingStyle = lipgloss.NewStyle().Foreground(colorGray).Italic(true)

	inboundStyle = lipgloss.NewStyle().Foreground(colorWhite).Bold(true)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorGreen).
			Padding(0, 1)

	streamStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorGreen).
			Padding(0, 1)
)

const barCells = 10

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing radar..."
	}

	streamWidth := m.streamWidth()
	sidebarWidth := m.width - streamWidth - 4
	bodyHeight := m.height - 4

	vp := m.viewport
	vp.Width = streamWidth
	vp.Height = bodyHeight

	streamView := streamStyle.Width(streamWidth).Height(bodyHeight).Render(vp.View())
	sidebarView := sidebarStyle.Width(sidebarWidth).Height(bodyHeight).Render(m.renderRadar(sidebarWidth))
	body := lipgloss.JoinHorizontal(lipgloss.Top, streamView, sidebarView)

	if ShouldFlash(m.lastInbound) {
		body = flashStyle.Render(body)
	}

	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderStatusBar(), m.textInput.View())
}

func (m model) renderStatusBar() string {
	to := "nobody"
	if p, ok := m.peer(m.selected); ok {
		to = peerName(p)
	}
	text := fmt.Sprintf("ID %s | TO %s", shortID(m.nodeID), to)
	if m.status != "" {
		text += " | " + m.status
	}
	return statusBarStyle.Render(text)
}

func (m model) renderRadar(width int) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("", "PEER", "SIGNAL", "DIST", "RANGE").
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 || row >= len(m.peers) {
				return lipgloss.NewStyle()
			}
			if m.peers[row].InRange {
				return inRangeStyle
			}
			return outRangeStyle
		})

	for _, p := range m.peers {
		marker := " "
		if p.PeerID == m.selected {
			marker = ">"
		}
		rangeLabel := "out"
		if p.InRange {
			rangeLabel = "in"
		}
		t.Row(marker, peerName(p), signalBar(p.SignalQuality), distanceLabel(p.EstimatedDistance), rangeLabel)
	}

	parts := []string{
		"RELAYMESH RADAR",
		fmt.Sprintf("ID: %s", m.nodeID),
		"",
		t.Render(),
	}
	if m.qr != "" {
		parts = append(parts, "", m.qr)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m model) peer(id string) (store.PeerObservation, bool) {
	for _, p := range m.peers {
		if p.PeerID == id {
			return p, true
		}
	}
	return store.PeerObservation{}, false
}

func (m model) buildStream() string {
	msgs, err := m.session.Messages(historyLimit)
	if err != nil {
		return fmt.Sprintf("failed to load messages: %v\n", err)
	}
	if len(msgs) == 0 {
		return "No messages yet.\n"
	}

	var sb strings.Builder
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		ts := msg.CreatedAt.Format("15:04:05")

		var line string
		if msg.SenderID == m.nodeID {
			line = fmt.Sprintf("[%s] You -> %s: %s", ts, m.nameOf(msg.RecipientID), msg.Content)
			if !msg.Delivered() {
				line += " " + pendingStyle.Render("(pending)")
			}
		} else {
			line = inboundStyle.Render(fmt.Sprintf("[%s] %s: %s", ts, m.nameOf(msg.SenderID), msg.Content))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func (m model) nameOf(peerID string) string {
	if p, ok := m.peer(peerID); ok {
		return peerName(p)
	}
	return shortID(peerID)
}

func peerName(p store.PeerObservation) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return shortID(p.PeerID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// signalBar renders quality 0..100 as a ten-cell bar.
func signalBar(quality int) string {
	filled := quality / barCells
	if filled < 0 {
		filled = 0
	}
	if filled > barCells {
		filled = barCells
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barCells-filled)
}

func distanceLabel(d int) string {
	if d < 0 {
		return "--"
	}
	return fmt.Sprintf("~%dm", d)
}

func ShouldFlash(msgTime time.Time) bool {
	return time.Since(msgTime) < 500*time.Millisecond
}
