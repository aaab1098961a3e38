// Package signal converts proximity signal quality into distance estimates
// and smooths noisy readings.
package signal

import (
	"math"
	"sync"
)

const (
	MaxQuality = 100
	MinQuality = 0

	// MaxWindow is the number of readings retained per peer.
	MaxWindow = 10

	// MaxRange is the distance at and beyond which the signal is lost.
	MaxRange = 20
)

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ToDistance estimates the distance in meters for a quality score in [0,100].
func ToDistance(quality float64) int {
	q := clamp(quality, MinQuality, MaxQuality)
	switch {
	case q >= 90:
		return 0
	case q >= 75:
		return int(math.Round((100 - q) * 0.3))
	case q >= 50:
		return int(math.Round(5 + (75-q)*0.2))
	case q >= 25:
		return int(math.Round(10 + (50-q)*0.2))
	default:
		return int(math.Round(15 + (25-q)*0.4))
	}
}

// ToSignal is the inverse of ToDistance, with breakpoints at 0, 5, 10, 15
// and 20 meters.
func ToSignal(meters float64) int {
	var q float64
	switch d := meters; {
	case d <= 0:
		q = MaxQuality
	case d <= 5:
		q = 90 - d*3
	case d <= 10:
		q = 75 - (d-5)/0.2
	case d <= 15:
		q = 50 - (d-10)/0.2
	case d < MaxRange:
		q = 25 - (d-15)/0.4
	default:
		q = MinQuality
	}
	return int(math.Round(clamp(q, MinQuality, MaxQuality)))
}

// Smooth returns the linearly weighted moving average of the last MaxWindow
// readings, ordered oldest to newest. The newest reading weighs the most.
func Smooth(readings []float64) float64 {
	if len(readings) > MaxWindow {
		readings = readings[len(readings)-MaxWindow:]
	}
	var sum, weights float64
	for i, r := range readings {
		w := float64(i + 1)
		sum += r * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// Smoother keeps a bounded reading window per peer.
type Smoother struct {
	mu      sync.Mutex
	windows map[string][]float64
}

func NewSmoother() *Smoother {
	return &Smoother{windows: make(map[string][]float64)}
}

// Push appends a reading for peerID, evicting the oldest beyond MaxWindow,
// and returns the new smoothed value.
func (s *Smoother) Push(peerID string, reading float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := append(s.windows[peerID], clamp(reading, MinQuality, MaxQuality))
	if len(w) > MaxWindow {
		w = append([]float64(nil), w[len(w)-MaxWindow:]...)
	}
	s.windows[peerID] = w
	return Smooth(w)
}

// Value returns the smoothed value for peerID and whether any reading exists.
func (s *Smoother) Value(peerID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[peerID]
	if !ok || len(w) == 0 {
		return 0, false
	}
	return Smooth(w), true
}

// Window returns a copy of the retained readings for peerID.
func (s *Smoother) Window(peerID string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.windows[peerID]...)
}

func (s *Smoother) Forget(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, peerID)
}

func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string][]float64)
}
