package discovery

import (
	"testing"
	"time"

	"github.com/bit2swaz/relaymesh/internal/signal"
	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource reports fixed qualities; peers listed in absent are not heard.
type scriptedSource struct {
	quality map[string]float64
	absent  map[string]bool
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{quality: map[string]float64{}, absent: map[string]bool{}}
}

func (s *scriptedSource) Sample(peerID string, prev float64, seen bool) (float64, bool) {
	if s.absent[peerID] {
		return prev, false
	}
	if q, ok := s.quality[peerID]; ok {
		return q, true
	}
	return prev, true
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestScanner(src ProximitySource) (*Scanner, *Table, *signal.Smoother, *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	table := NewTable()
	smoother := signal.NewSmoother()
	return NewScanner("self", src, smoother, table, clk.now), table, smoother, clk
}

func contacts(ids ...string) []store.Contact {
	var out []store.Contact
	for _, id := range ids {
		out = append(out, store.Contact{PeerID: id, DisplayName: "peer-" + id})
	}
	return out
}

func TestScanSkipsSelfAndClassifies(t *testing.T) {
	src := newScriptedSource()
	src.quality["near"] = 64
	src.quality["edge"] = 20
	src.quality["self"] = 99
	sc, table, _, clk := newTestScanner(src)

	pass := sc.Scan(contacts("self", "near", "edge"))
	pass.Commit()

	require.Len(t, pass.Observations, 2)
	near, ok := table.Get("near")
	require.True(t, ok)
	assert.True(t, near.InRange)
	assert.Equal(t, 64, near.SignalQuality)
	assert.Equal(t, signal.ToDistance(64), near.EstimatedDistance)
	assert.Equal(t, "peer-near", near.DisplayName)
	assert.Equal(t, clk.t, near.LastSeen)

	edge, _ := table.Get("edge")
	assert.False(t, edge.InRange, "quality equal to the threshold is out of range")

	_, ok = table.Get("self")
	assert.False(t, ok)
	assert.Equal(t, []string{"near"}, table.InRangeIDs())
}

func TestScanFractionalReadingsStayConsistent(t *testing.T) {
	src := newScriptedSource()
	src.quality["low"] = 20.4
	src.quality["high"] = 74.6
	sc, table, _, _ := newTestScanner(src)

	sc.Scan(contacts("low", "high")).Commit()

	for _, id := range []string{"low", "high"} {
		obs, ok := table.Get(id)
		require.True(t, ok)
		assert.Equal(t, obs.SignalQuality > InRangeThreshold, obs.InRange, id)
		assert.Equal(t, signal.ToDistance(float64(obs.SignalQuality)), obs.EstimatedDistance, id)
	}
	low, _ := table.Get("low")
	assert.Equal(t, 20, low.SignalQuality)
	assert.False(t, low.InRange)
	high, _ := table.Get("high")
	assert.Equal(t, 75, high.SignalQuality)
	assert.Equal(t, 8, high.EstimatedDistance)
}

func TestScanDecaysAbsentPeers(t *testing.T) {
	src := newScriptedSource()
	src.quality["p"] = 50
	sc, table, smoother, clk := newTestScanner(src)

	sc.Scan(contacts("p")).Commit()
	firstSeen := clk.t

	src.absent["p"] = true
	clk.advance(10 * time.Second)
	sc.Scan(contacts("p")).Commit()
	p, _ := table.Get("p")
	assert.Equal(t, 50, p.SignalQuality, "no decay before the stale window")
	assert.Equal(t, firstSeen, p.LastSeen)

	clk.advance(21 * time.Second)
	sc.Scan(contacts("p")).Commit()
	p, _ = table.Get("p")
	assert.Equal(t, 40, p.SignalQuality)
	assert.Equal(t, firstSeen, p.LastSeen)
	assert.Equal(t, []float64{50, 50, 40}, smoother.Window("p"))
}

func TestScanDecayDropsPeerOutOfRange(t *testing.T) {
	src := newScriptedSource()
	src.quality["p"] = 25
	sc, table, _, clk := newTestScanner(src)
	sc.Scan(contacts("p")).Commit()
	require.True(t, table.InRange("p"))

	src.absent["p"] = true
	clk.advance(31 * time.Second)
	sc.Scan(contacts("p")).Commit()
	assert.False(t, table.InRange("p"))
	p, ok := table.Get("p")
	require.True(t, ok, "out-of-range peers stay in the table")
	assert.Equal(t, 15, p.SignalQuality)
}

func TestScanUncommittedPassLeavesStateUntouched(t *testing.T) {
	src := newScriptedSource()
	src.quality["p"] = 70
	sc, table, smoother, _ := newTestScanner(src)

	pass := sc.Scan(contacts("p"))
	require.Len(t, pass.Observations, 1)
	assert.Equal(t, 0, table.Len())
	_, ok := smoother.Value("p")
	assert.False(t, ok)
}

func TestScanKeepsEnumerationOrder(t *testing.T) {
	src := newScriptedSource()
	src.quality["b"] = 60
	src.absent["a"] = true
	sc, table, _, _ := newTestScanner(src)

	sc.Scan(contacts("a", "b")).Commit()
	require.Equal(t, 1, table.Len(), "unheard new peers are not added")

	delete(src.absent, "a")
	src.quality["a"] = 60
	sc.Scan(contacts("a", "b")).Commit()
	snap := table.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].PeerID)
	assert.Equal(t, "a", snap[1].PeerID)
	assert.Equal(t, 1, snap[1].Position)
	assert.Equal(t, []string{"b", "a"}, table.InRangeIDs())
}

func TestScanSeedsFromRestoredTable(t *testing.T) {
	src := newScriptedSource()
	src.absent["p"] = true
	sc, table, _, clk := newTestScanner(src)
	table.Replace([]store.PeerObservation{{PeerID: "p", SignalQuality: 55, InRange: true, LastSeen: clk.t}})

	pass := sc.Scan(contacts("p"))
	require.Len(t, pass.Observations, 1)
	assert.Equal(t, 55, pass.Observations[0].SignalQuality)
	assert.Empty(t, pass.Seen)
}

func TestSimulatorInitialAndJitter(t *testing.T) {
	sim := NewSimulator(42, 0)
	for i := 0; i < 100; i++ {
		q, detected := sim.Sample("p", 0, false)
		require.True(t, detected)
		assert.GreaterOrEqual(t, q, 50.0)
		assert.Less(t, q, 80.0)
	}
	for i := 0; i < 100; i++ {
		q, detected := sim.Sample("p", 98, true)
		require.True(t, detected)
		assert.InDelta(t, 98, q, 5)
		assert.LessOrEqual(t, q, 100.0)
	}
}

func TestSimulatorMisses(t *testing.T) {
	sim := NewSimulator(7, 1)
	q, detected := sim.Sample("p", 33, true)
	assert.False(t, detected)
	assert.Equal(t, 33.0, q)
}
