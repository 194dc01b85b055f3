// Package market owns the in-memory market event buffer: two append-only,
// time-ordered sequences (ticks and bid-asks) per trading session, with a
// sliding retention window and binary-search range queries.
//
// Concurrency model: one producer (the feed dispatcher) appends; one consumer
// (the strategy runner) waits for the tick signal, advances the window right
// edge, and drives indicator updates. Indicator managers read concurrently
// within a cycle, but only through ranges bounded by the published right
// edge, so they never observe a partially-appended event.
package market

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tmf-trader/internal/model"
)

// ErrOutOfOrder reports a market event older than the newest buffered one.
// The brokerage stream promises arrival order; a violation is a consistency
// fault that must surface, not be silently reordered.
var ErrOutOfOrder = errors.New("market: event out of order")

const (
	// DefaultWindowSize is the span of events retained for indicator queries.
	DefaultWindowSize = 2 * time.Hour
	// DefaultCleanLimit is the span that triggers a left-edge advance. Larger
	// than the window so trimming amortizes instead of running every tick.
	DefaultCleanLimit = 3 * time.Hour

	// waitTimeout bounds WaitForTick so the consumer loop can run liveness
	// checks even when the market goes quiet.
	waitTimeout = 10 * time.Second
)

// Config tunes the retention window.
type Config struct {
	WindowSize time.Duration
	CleanLimit time.Duration
}

// Buffer holds a session's ticks and bid-asks. The two sequences advance
// their windows independently since their arrival rates differ.
type Buffer struct {
	symbol string

	windowSize time.Duration
	cleanLimit time.Duration

	mu        sync.RWMutex
	ticks     []model.Tick
	tickLeft  int
	tickRight int // index of newest published tick, -1 when empty
	bidAsks   []model.BidAsk
	baLeft    int
	baRight   int

	tickSignal chan struct{}
	stopped    bool
}

// NewBuffer creates an empty session buffer for one symbol.
func NewBuffer(symbol string, cfg Config) *Buffer {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.CleanLimit <= 0 {
		cfg.CleanLimit = DefaultCleanLimit
	}
	return &Buffer{
		symbol:     symbol,
		windowSize: cfg.WindowSize,
		cleanLimit: cfg.CleanLimit,
		tickRight:  -1,
		baRight:    -1,
		tickSignal: make(chan struct{}, 1),
	}
}

// Symbol returns the contract symbol this buffer serves.
func (b *Buffer) Symbol() string { return b.symbol }

// WindowSize returns the configured retention window.
func (b *Buffer) WindowSize() time.Duration { return b.windowSize }

// AppendTick appends a tick and raises the new-tick signal. The event is
// fully stored before the signal fires, so a reader woken by the signal
// always sees complete records.
func (b *Buffer) AppendTick(t model.Tick) error {
	b.mu.Lock()
	if n := len(b.ticks); n > 0 && t.TS.Before(b.ticks[n-1].TS) {
		last := b.ticks[n-1].TS
		b.mu.Unlock()
		return fmt.Errorf("%w: tick %s before buffered %s", ErrOutOfOrder, t.TS, last)
	}
	b.ticks = append(b.ticks, t)
	b.mu.Unlock()

	b.signal()
	return nil
}

// AppendBidAsk appends a bid-ask event. Bid-ask arrival does not drive the
// consumer loop, so no signal is raised.
func (b *Buffer) AppendBidAsk(ba model.BidAsk) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.bidAsks); n > 0 && ba.TS.Before(b.bidAsks[n-1].TS) {
		return fmt.Errorf("%w: bidask %s before buffered %s", ErrOutOfOrder, ba.TS, b.bidAsks[n-1].TS)
	}
	b.bidAsks = append(b.bidAsks, ba)
	return nil
}

// Splice prepends recovered history (persisted older ticks plus the in-day
// backfill) below the live ticks already buffered. Duplicates at the seam are
// dropped by timestamp. Called once, before the consumer loop starts.
func (b *Buffer) Splice(history []model.Tick) {
	if len(history) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	histEnd := history[len(history)-1].TS
	start := 0
	for start < len(b.ticks) && !b.ticks[start].TS.After(histEnd) {
		start++
	}
	merged := make([]model.Tick, 0, len(history)+len(b.ticks)-start)
	merged = append(merged, history...)
	merged = append(merged, b.ticks[start:]...)
	b.ticks = merged
}

func (b *Buffer) signal() {
	select {
	case b.tickSignal <- struct{}{}:
	default:
	}
}

// Stop unblocks any waiting consumer and makes further waits return false.
func (b *Buffer) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.signal()
}

// WaitForTick blocks until a new tick arrives (or the wait times out for a
// liveness pass), then publishes the window right edge and trims the left
// edge if the retained span exceeds the clean limit. Returns false once the
// buffer is stopped.
func (b *Buffer) WaitForTick() bool {
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	select {
	case <-b.tickSignal:
	case <-timer.C:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.advanceRightLocked()
	b.advanceLeftLocked()
	return true
}

// AdvanceWindow publishes the right edge and trims the left edge without
// waiting. Used by the replay path where there is no live signal.
func (b *Buffer) AdvanceWindow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceRightLocked()
	b.advanceLeftLocked()
}

func (b *Buffer) advanceRightLocked() {
	b.tickRight = len(b.ticks) - 1
	b.baRight = len(b.bidAsks) - 1
}

func (b *Buffer) advanceLeftLocked() {
	b.tickLeft = advanceLeft(b.ticks, b.tickLeft, b.tickRight, b.windowSize, b.cleanLimit)
	b.baLeft = advanceLeft(b.bidAsks, b.baLeft, b.baRight, b.windowSize, b.cleanLimit)
}

// advanceLeft moves the left edge forward (never backward) once the retained
// span exceeds cleanLimit, until the span is back within windowSize.
func advanceLeft[E Event](buf []E, left, right int, window, cleanLimit time.Duration) int {
	if right < 0 || left > right {
		return left
	}
	newest := buf[right].Time()
	if buf[left].Time().Before(newest.Add(-cleanLimit)) {
		cut := newest.Add(-window)
		for left < right && buf[left].Time().Before(cut) {
			left++
		}
	}
	return left
}

// snapshotTicks returns the slice header and window bounds under the read
// lock. The returned slice is safe to search lock-free: entries at or below
// the right edge are immutable.
func (b *Buffer) snapshotTicks() ([]model.Tick, int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ticks, b.tickLeft, b.tickRight
}

func (b *Buffer) snapshotBidAsks() ([]model.BidAsk, int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bidAsks, b.baLeft, b.baRight
}

// TicksBetween returns the ticks with start (<|<=) ts (<=|<) end inside the
// current window.
func (b *Buffer) TicksBetween(start, end time.Time, withStart, withEnd bool) []model.Tick {
	ticks, left, right := b.snapshotTicks()
	return QueryRange(ticks, left, right+1, start, end, withStart, withEnd)
}

// BidAsksBetween is TicksBetween for the bid-ask sequence.
func (b *Buffer) BidAsksBetween(start, end time.Time, withStart, withEnd bool) []model.BidAsk {
	bas, left, right := b.snapshotBidAsks()
	return QueryRange(bas, left, right+1, start, end, withStart, withEnd)
}

// AllTicksBetween is TicksBetween without the left-edge restriction. The
// left edge only moves the logical window; trimmed entries still back the
// slice, so ranges that have slid out of retention stay addressable.
// Incremental managers subtract outgoing events with this: when a manager's
// window equals the retention window, the outgoing range sits below the
// freshly advanced left edge and a window-restricted query would miss it.
func (b *Buffer) AllTicksBetween(start, end time.Time, withStart, withEnd bool) []model.Tick {
	ticks, _, right := b.snapshotTicks()
	return QueryRange(ticks, 0, right+1, start, end, withStart, withEnd)
}

// AllBidAsksBetween is AllTicksBetween for the bid-ask sequence.
func (b *Buffer) AllBidAsksBetween(start, end time.Time, withStart, withEnd bool) []model.BidAsk {
	bas, _, right := b.snapshotBidAsks()
	return QueryRange(bas, 0, right+1, start, end, withStart, withEnd)
}

// LatestTick returns the newest published tick.
func (b *Buffer) LatestTick() (model.Tick, bool) {
	ticks, _, right := b.snapshotTicks()
	if right < 0 {
		return model.Tick{}, false
	}
	return ticks[right], true
}

// PrevTick returns the tick before the newest published one, if the window
// still holds it.
func (b *Buffer) PrevTick() (model.Tick, bool) {
	ticks, left, right := b.snapshotTicks()
	if right < 1 || right-1 < left {
		return model.Tick{}, false
	}
	return ticks[right-1], true
}

// LatestBidAsk returns the newest published bid-ask event.
func (b *Buffer) LatestBidAsk() (model.BidAsk, bool) {
	bas, _, right := b.snapshotBidAsks()
	if right < 0 {
		return model.BidAsk{}, false
	}
	return bas[right], true
}

// TickWindow reports the current [left, right] tick window indices.
func (b *Buffer) TickWindow() (int, int) {
	_, left, right := b.snapshotTicks()
	return left, right
}

// TickLen reports the total number of buffered ticks (including trimmed-out
// ones still backing the slice).
func (b *Buffer) TickLen() int {
	ticks, _, _ := b.snapshotTicks()
	return len(ticks)
}

// BidAskLen reports the total number of buffered bid-ask events.
func (b *Buffer) BidAskLen() int {
	bas, _, _ := b.snapshotBidAsks()
	return len(bas)
}

// WindowTicks returns every tick in the published window. Used by the
// end-of-session archive.
func (b *Buffer) WindowTicks() []model.Tick {
	ticks, left, right := b.snapshotTicks()
	if right < left {
		return nil
	}
	out := make([]model.Tick, right-left+1)
	copy(out, ticks[left:right+1])
	return out
}
