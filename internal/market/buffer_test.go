package market

import (
	"errors"
	"testing"
	"time"

	"tmf-trader/internal/model"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, model.Taipei)

func tickAt(sec int, price float64, vol int64) model.Tick {
	return model.Tick{
		Symbol: "TMFR1",
		TS:     t0.Add(time.Duration(sec) * time.Second),
		Close:  price,
		Volume: vol,
	}
}

func fillBuffer(t *testing.T, b *Buffer, secs ...int) {
	t.Helper()
	for _, s := range secs {
		if err := b.AppendTick(tickAt(s, 100, 1)); err != nil {
			t.Fatalf("append at %ds: %v", s, err)
		}
	}
	b.AdvanceWindow()
}

func tsOf(ticks []model.Tick) []int {
	out := make([]int, len(ticks))
	for i, tk := range ticks {
		out[i] = int(tk.TS.Sub(t0) / time.Second)
	}
	return out
}

func eqInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueryRangeInclusivity(t *testing.T) {
	b := NewBuffer("TMFR1", Config{})
	fillBuffer(t, b, 0, 10, 20, 20, 30, 40)

	start := t0.Add(10 * time.Second)
	end := t0.Add(30 * time.Second)

	cases := []struct {
		name               string
		withStart, withEnd bool
		want               []int
	}{
		{"closed-closed", true, true, []int{10, 20, 20, 30}},
		{"open-closed", false, true, []int{20, 20, 30}},
		{"closed-open", true, false, []int{10, 20, 20}},
		{"open-open", false, false, []int{20, 20}},
	}
	for _, tc := range cases {
		got := tsOf(b.TicksBetween(start, end, tc.withStart, tc.withEnd))
		if !eqInts(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestQueryRangeEmptyAndInvalid(t *testing.T) {
	b := NewBuffer("TMFR1", Config{})
	if got := b.TicksBetween(t0, t0.Add(time.Minute), true, true); got != nil {
		t.Errorf("empty buffer: got %v, want nil", got)
	}

	fillBuffer(t, b, 0, 10)
	// Range entirely before the data.
	if got := b.TicksBetween(t0.Add(-time.Hour), t0.Add(-time.Minute), true, true); got != nil {
		t.Errorf("disjoint range: got %v, want nil", got)
	}
	// Inverted range.
	if got := b.TicksBetween(t0.Add(time.Minute), t0, true, true); got != nil {
		t.Errorf("inverted range: got %v, want nil", got)
	}
}

func TestQueryRangeDirect(t *testing.T) {
	var ticks []model.Tick
	for _, s := range []int{0, 5, 5, 5, 9} {
		ticks = append(ticks, tickAt(s, 100, 1))
	}

	// right bound below left bound returns nil immediately
	if got := QueryRange(ticks, 3, 2, t0, t0.Add(time.Minute), true, true); got != nil {
		t.Errorf("inverted index range: got %v, want nil", got)
	}

	// index restriction applies before the time predicate
	got := QueryRange(ticks, 2, 4, t0, t0.Add(time.Minute), true, true)
	if len(got) != 2 {
		t.Errorf("restricted range: got %d events, want 2", len(got))
	}
}

func TestAppendOutOfOrder(t *testing.T) {
	b := NewBuffer("TMFR1", Config{})
	fillBuffer(t, b, 0, 10)
	err := b.AppendTick(tickAt(5, 100, 1))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("got %v, want ErrOutOfOrder", err)
	}

	// equal timestamps are fine (ties broken by arrival order)
	if err := b.AppendTick(tickAt(10, 101, 1)); err != nil {
		t.Fatalf("equal-timestamp append: %v", err)
	}
}

func TestWindowLeftAdvancesAndIsMonotonic(t *testing.T) {
	b := NewBuffer("TMFR1", Config{
		WindowSize: 60 * time.Second,
		CleanLimit: 90 * time.Second,
	})

	prevLeft := 0
	for s := 0; s <= 300; s += 10 {
		if err := b.AppendTick(tickAt(s, 100, 1)); err != nil {
			t.Fatalf("append: %v", err)
		}
		b.AdvanceWindow()
		left, right := b.TickWindow()
		if left < prevLeft {
			t.Fatalf("left edge moved backward: %d -> %d", prevLeft, left)
		}
		prevLeft = left
		// span within window whenever a trim just ran
		span := b.ticks[right].TS.Sub(b.ticks[left].TS)
		if span > 90*time.Second {
			t.Fatalf("span %v exceeds clean limit after advance", span)
		}
	}
	if prevLeft == 0 {
		t.Fatal("left edge never advanced over a 300s session with a 60s window")
	}
}

func TestTrimmedTicksInvisibleToQueries(t *testing.T) {
	b := NewBuffer("TMFR1", Config{
		WindowSize: 30 * time.Second,
		CleanLimit: 60 * time.Second,
	})
	fillBuffer(t, b, 0, 10, 20, 30, 40, 50, 70, 80, 90)

	got := tsOf(b.TicksBetween(t0, t0.Add(100*time.Second), true, true))
	for _, s := range got {
		if s < 60 {
			t.Errorf("tick at %ds should be outside the trimmed window", s)
		}
	}
}

func TestLatestAndPrevTick(t *testing.T) {
	b := NewBuffer("TMFR1", Config{})
	if _, ok := b.LatestTick(); ok {
		t.Error("empty buffer should have no latest tick")
	}
	fillBuffer(t, b, 0)
	if _, ok := b.PrevTick(); ok {
		t.Error("single-tick buffer should have no prev tick")
	}
	fillBuffer(t, b, 10)
	latest, ok := b.LatestTick()
	if !ok || !latest.TS.Equal(t0.Add(10*time.Second)) {
		t.Errorf("latest: got %v ok=%v", latest.TS, ok)
	}
	prev, ok := b.PrevTick()
	if !ok || !prev.TS.Equal(t0) {
		t.Errorf("prev: got %v ok=%v", prev.TS, ok)
	}
}

func TestSpliceDropsSeamDuplicates(t *testing.T) {
	b := NewBuffer("TMFR1", Config{})
	// live ticks arrived first
	fillBuffer(t, b, 100, 110, 120)

	// history overlaps the first live tick
	hist := []model.Tick{tickAt(80, 99, 1), tickAt(90, 99, 1), tickAt(100, 99, 1)}
	b.Splice(hist)
	b.AdvanceWindow()

	got := tsOf(b.TicksBetween(t0, t0.Add(time.Hour), true, true))
	want := []int{80, 90, 100, 110, 120}
	if !eqInts(got, want) {
		t.Errorf("after splice: got %v, want %v", got, want)
	}
}

func TestStopUnblocksWaiter(t *testing.T) {
	b := NewBuffer("TMFR1", Config{})
	done := make(chan bool, 1)
	go func() { done <- b.WaitForTick() }()
	time.Sleep(10 * time.Millisecond)
	b.Stop()
	select {
	case ok := <-done:
		if ok {
			t.Error("WaitForTick should return false after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForTick did not unblock on Stop")
	}
}
