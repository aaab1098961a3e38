package signal

import (
	"math"
	"testing"
)

func TestToDistancePieces(t *testing.T) {
	cases := []struct {
		q    float64
		want int
	}{
		{100, 0},
		{95, 0},
		{90, 0},
		{89, 3},
		{80, 6},
		{75, 8},
		{74, 5},
		{60, 8},
		{50, 10},
		{49, 10},
		{30, 14},
		{25, 15},
		{24, 15},
		{10, 21},
		{0, 25},
		{-40, 25},
		{140, 0},
	}
	for _, c := range cases {
		if got := ToDistance(c.q); got != c.want {
			t.Errorf("ToDistance(%v) = %d, want %d", c.q, got, c.want)
		}
	}
}

func TestToSignalBounds(t *testing.T) {
	cases := []struct {
		d    float64
		want int
	}{
		{-3, 100},
		{0, 100},
		{5, 75},
		{10, 50},
		{15, 25},
		{19, 15},
		{20, 0},
		{300, 0},
	}
	for _, c := range cases {
		if got := ToSignal(c.d); got != c.want {
			t.Errorf("ToSignal(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}

func TestToSignalIsMonotonic(t *testing.T) {
	prev := ToSignal(0)
	for d := 0.5; d <= 25; d += 0.5 {
		got := ToSignal(d)
		if got > prev {
			t.Fatalf("ToSignal not non-increasing at %vm: %d > %d", d, got, prev)
		}
		prev = got
	}
}

func TestToDistanceIsMonotonicWithinPieces(t *testing.T) {
	// The curve steps at 75, so each side is checked separately.
	for _, piece := range [][2]int{{0, 74}, {75, 100}} {
		prev := ToDistance(float64(piece[0]))
		for q := piece[0] + 1; q <= piece[1]; q++ {
			got := ToDistance(float64(q))
			if got > prev {
				t.Fatalf("ToDistance not non-increasing at q=%d: %d > %d", q, got, prev)
			}
			prev = got
		}
	}
}

func TestRoundTripAtBreakpoints(t *testing.T) {
	const tolerance = 15
	for _, q := range []float64{100, 90, 75, 50, 25, 0} {
		back := ToSignal(float64(ToDistance(q)))
		if math.Abs(float64(back)-q) > tolerance {
			t.Errorf("ToSignal(ToDistance(%v)) = %d, outside ±%d", q, back, tolerance)
		}
	}
}

func TestSmoothWeightsNewest(t *testing.T) {
	// (10*1 + 40*2) / 3 = 30
	if got := Smooth([]float64{10, 40}); got != 30 {
		t.Errorf("Smooth = %v, want 30", got)
	}
	if got := Smooth(nil); got != 0 {
		t.Errorf("Smooth(nil) = %v, want 0", got)
	}
	if got := Smooth([]float64{42}); got != 42 {
		t.Errorf("Smooth single = %v, want 42", got)
	}
}

func TestSmootherWindowIsBounded(t *testing.T) {
	s := NewSmoother()
	for i := 0; i < 25; i++ {
		s.Push("p", float64(i))
	}
	w := s.Window("p")
	if len(w) != MaxWindow {
		t.Fatalf("Expected %d readings, got %d", MaxWindow, len(w))
	}
	if w[0] != 15 || w[MaxWindow-1] != 24 {
		t.Errorf("Expected oldest readings evicted first, window = %v", w)
	}
	v, ok := s.Value("p")
	if !ok {
		t.Fatal("Expected a smoothed value")
	}
	if v != Smooth(w) {
		t.Errorf("Value = %v, want %v", v, Smooth(w))
	}
}

func TestSmootherForgetAndReset(t *testing.T) {
	s := NewSmoother()
	s.Push("a", 50)
	s.Push("b", 60)
	s.Forget("a")
	if _, ok := s.Value("a"); ok {
		t.Error("Expected a to be forgotten")
	}
	s.Reset()
	if _, ok := s.Value("b"); ok {
		t.Error("Expected reset to clear every window")
	}
}
