package discovery

import (
	"math/rand"
	"sync"
)

// ProximitySource produces raw signal quality samples for a peer. prev is the
// smoothed history for the peer and seen reports whether any history exists.
// A source that did not hear the peer this tick returns detected == false.
type ProximitySource interface {
	Sample(peerID string, prev float64, seen bool) (quality float64, detected bool)
}

const (
	initialMin   = 50
	initialSpan  = 30
	jitterSpread = 5
)

// Simulator stands in for radio discovery. New peers start in [50,80) and
// known peers wander by up to ±5 per tick. MissRate is the probability that
// a known peer is not heard on a given tick.
type Simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	MissRate float64
}

func NewSimulator(seed int64, missRate float64) *Simulator {
	return &Simulator{
		rng:      rand.New(rand.NewSource(seed)),
		MissRate: missRate,
	}
}

func (s *Simulator) Sample(peerID string, prev float64, seen bool) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !seen {
		return initialMin + s.rng.Float64()*initialSpan, true
	}
	if s.MissRate > 0 && s.rng.Float64() < s.MissRate {
		// Nothing was heard, so there is no reading to jitter.
		return prev, false
	}
	jitter := s.rng.Float64()*2*jitterSpread - jitterSpread
	return clampQuality(prev + jitter), true
}

func clampQuality(q float64) float64 {
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}

// FixedSource reports whatever quality was last set for a peer. Peers with
// no quality set are not heard. Simulations use it to script movement.
type FixedSource struct {
	mu sync.Mutex
	q  map[string]float64
}

func NewFixedSource() *FixedSource {
	return &FixedSource{q: make(map[string]float64)}
}

func (f *FixedSource) Set(peerID string, quality float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.q[peerID] = clampQuality(quality)
}

func (f *FixedSource) Drop(peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.q, peerID)
}

func (f *FixedSource) Sample(peerID string, prev float64, seen bool) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.q[peerID]
	if !ok {
		return prev, false
	}
	return q, true
}
