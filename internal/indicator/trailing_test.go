package indicator

import (
	"errors"
	"testing"
)

func TestTrailingStop_LongRatchetMonotonic(t *testing.T) {
	vol := 10.0
	ts := NewTrailingStop(func() float64 { return vol })

	// offset = min(30, 10*2) = 20: seed at 100-20
	v, err := ts.Calc(true, 100, 2, 30)
	if err != nil {
		t.Fatalf("calc: %v", err)
	}
	if v != 80 {
		t.Fatalf("seed level = %v, want 80", v)
	}

	prices := []float64{105, 103, 120, 110, 140}
	prev := v
	for _, p := range prices {
		v, err = ts.Calc(true, p, 2, 30)
		if err != nil {
			t.Fatalf("calc at %v: %v", p, err)
		}
		if v < prev {
			t.Fatalf("long ratchet fell: %v -> %v at price %v", prev, v, p)
		}
		prev = v
	}
	if v != 120 {
		t.Fatalf("final level = %v, want 120", v)
	}
}

func TestTrailingStop_ShortRatchetMonotonic(t *testing.T) {
	ts := NewTrailingStop(func() float64 { return 5 })

	v, err := ts.Calc(false, 100, 2, 30)
	if err != nil {
		t.Fatalf("calc: %v", err)
	}
	if v != 110 {
		t.Fatalf("seed level = %v, want 110", v)
	}

	prev := v
	for _, p := range []float64{95, 98, 80, 85} {
		v, err = ts.Calc(false, p, 2, 30)
		if err != nil {
			t.Fatalf("calc at %v: %v", p, err)
		}
		if v > prev {
			t.Fatalf("short ratchet rose: %v -> %v at price %v", prev, v, p)
		}
		prev = v
	}
	if v != 90 {
		t.Fatalf("final level = %v, want 90", v)
	}
}

func TestTrailingStop_MaxLossCapsOffset(t *testing.T) {
	ts := NewTrailingStop(func() float64 { return 100 })
	v, err := ts.Calc(true, 200, 3, 25)
	if err != nil {
		t.Fatalf("calc: %v", err)
	}
	if v != 175 {
		t.Fatalf("level = %v, want 175 (offset capped at 25)", v)
	}
}

func TestTrailingStop_DirectionFlipFailsFast(t *testing.T) {
	ts := NewTrailingStop(func() float64 { return 5 })
	if _, err := ts.Calc(true, 100, 2, 30); err != nil {
		t.Fatalf("calc: %v", err)
	}
	if _, err := ts.Calc(false, 100, 2, 30); !errors.Is(err, ErrDirectionFlip) {
		t.Fatalf("flip without reset: err = %v, want ErrDirectionFlip", err)
	}

	// reset re-anchors cleanly in the new direction
	ts.Reset()
	v, err := ts.Calc(false, 100, 2, 30)
	if err != nil {
		t.Fatalf("calc after reset: %v", err)
	}
	if v != 110 {
		t.Fatalf("re-anchored level = %v, want 110", v)
	}
	if _, ok := ts.Level(); !ok {
		t.Fatal("level not seeded after reset+calc")
	}
}
