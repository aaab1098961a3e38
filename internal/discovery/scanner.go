package discovery

import (
	"math"
	"time"

	"github.com/bit2swaz/relaymesh/internal/signal"
	"github.com/bit2swaz/relaymesh/internal/store"
)

const (
	// InRangeThreshold is the quality a peer must exceed to be in range.
	InRangeThreshold = 20
	// StaleAfter is how long a peer may go unheard before it decays.
	StaleAfter   = 30 * time.Second
	AbsenceDecay = 10
)

type Scanner struct {
	selfID   string
	source   ProximitySource
	smoother *signal.Smoother
	table    *Table
	now      func() time.Time
}

func NewScanner(selfID string, source ProximitySource, smoother *signal.Smoother, table *Table, now func() time.Time) *Scanner {
	if now == nil {
		now = time.Now
	}
	return &Scanner{
		selfID:   selfID,
		source:   source,
		smoother: smoother,
		table:    table,
		now:      now,
	}
}

type reading struct {
	peerID  string
	quality float64
}

// Pass is the outcome of one scan. Nothing is applied to the table or the
// smoothing windows until Commit is called, so a pass whose persistence fails
// leaves the live state untouched.
type Pass struct {
	At           time.Time
	Observations []store.PeerObservation
	// Seen holds the contacts heard during this pass.
	Seen     map[string]time.Time
	readings []reading
	scanner  *Scanner
}

// Scan evaluates every contact except self against the proximity source.
func (s *Scanner) Scan(contacts []store.Contact) *Pass {
	now := s.now()
	pass := &Pass{
		At:           now,
		Observations: s.table.Snapshot(),
		Seen:         make(map[string]time.Time),
		scanner:      s,
	}
	pos := make(map[string]int, len(pass.Observations))
	for i, o := range pass.Observations {
		pos[o.PeerID] = i
	}

	for _, c := range contacts {
		if c.PeerID == s.selfID {
			continue
		}
		existing, known := s.table.Get(c.PeerID)
		prev, seen := s.smoother.Value(c.PeerID)
		if !seen && known {
			// Restored from the persisted cache without smoothing history.
			prev, seen = float64(existing.SignalQuality), true
		}

		q, detected := s.source.Sample(c.PeerID, prev, seen)
		if !seen && !detected {
			continue
		}
		if !detected {
			q = prev
		}

		lastSeen := existing.LastSeen
		if detected {
			lastSeen = now
			pass.Seen[c.PeerID] = now
		}
		if seen && now.Sub(lastSeen) > StaleAfter {
			q -= AbsenceDecay
		}
		// Classification and distance use the published integer quality.
		q = math.Round(clampQuality(q))

		name := c.DisplayName
		if name == "" {
			name = c.Username
		}
		obs := store.PeerObservation{
			PeerID:            c.PeerID,
			DisplayName:       name,
			SignalQuality:     int(q),
			InRange:           q > InRangeThreshold,
			LastSeen:          lastSeen,
			EstimatedDistance: signal.ToDistance(q),
		}
		if i, ok := pos[c.PeerID]; ok {
			pass.Observations[i] = obs
		} else {
			pos[c.PeerID] = len(pass.Observations)
			pass.Observations = append(pass.Observations, obs)
		}
		pass.readings = append(pass.readings, reading{peerID: c.PeerID, quality: q})
	}

	for i := range pass.Observations {
		pass.Observations[i].Position = i
	}
	return pass
}

// Commit applies the pass to the live table and the smoothing windows.
func (p *Pass) Commit() {
	for _, r := range p.readings {
		p.scanner.smoother.Push(r.peerID, r.quality)
	}
	p.scanner.table.Replace(p.Observations)
}
