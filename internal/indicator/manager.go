package indicator

import (
	"errors"
	"fmt"
	"time"

	"tmf-trader/internal/market"
)

var (
	// ErrNoData reports an update cycle with no events inside the window.
	ErrNoData = errors.New("indicator: no events in window")
	// ErrTimeReversal reports an update timestamp older than the last state.
	ErrTimeReversal = errors.New("indicator: update time precedes last state")
)

// maxHistory caps the in-memory state history. Reaching it flushes the older
// half to the store and keeps the newer half.
const maxHistory = 131072

// FlushStore receives serialized state batches. Implementations must not
// block the caller; the hot path hands off and returns.
type FlushStore interface {
	// AppendStates persists states under storageKey, drawing serials from the
	// counter at serialKey and scoring each member by its UTC epoch seconds.
	AppendStates(storageKey, serialKey string, states []State)
}

// Manager is the provider-facing surface every concrete indicator manager
// exposes.
type Manager interface {
	Key() Key
	// Update computes and records the state at now. A failed update leaves
	// history unchanged.
	Update(now time.Time) error
	// Flush hands unflushed states to the store. anyway forces the remainder
	// out regardless of history length, for session shutdown.
	Flush(anyway bool)
	// Level orders updates: managers at level n only read managers below n,
	// so the provider runs levels sequentially and a level's managers
	// concurrently.
	Level() int
	// Value reports the newest state's value, false when none exists yet.
	Value() (float64, bool)
	// History exposes the state sequence for derived consumers.
	History() HistoryView
}

// HistoryView is read access to a manager's state history without the
// concrete state type.
type HistoryView interface {
	Len() int
	// At returns the timestamp and value at index i; a negative i counts
	// from the end, since strategy code reasons from the newest state
	// backward.
	At(i int) (time.Time, float64, bool)
	LastTime() (time.Time, bool)
}

// history is the shared core under every concrete manager: the state
// sequence, the stale-last rule, flushing and change-rate lookups.
type history[S State] struct {
	key        Key
	symbol     string
	sessionTag string
	window     time.Duration
	store      FlushStore // nil disables persistence (tests, replay)
	level      int

	states  []S
	flushed int // states[:flushed] already persisted
}

func newHistory[S State](key Key, symbol, sessionTag string, store FlushStore, level int) history[S] {
	return history[S]{
		key:        key,
		symbol:     symbol,
		sessionTag: sessionTag,
		window:     key.Window,
		store:      store,
		level:      level,
	}
}

func (h *history[S]) Key() Key   { return h.key }
func (h *history[S]) Level() int { return h.level }

func (h *history[S]) Len() int { return len(h.states) }

func (h *history[S]) At(i int) (time.Time, float64, bool) {
	if i < 0 {
		i += len(h.states)
	}
	if i < 0 || i >= len(h.states) {
		return time.Time{}, 0, false
	}
	s := h.states[i]
	return s.Time(), s.Value(), true
}

func (h *history[S]) LastTime() (time.Time, bool) {
	if len(h.states) == 0 {
		return time.Time{}, false
	}
	return h.states[len(h.states)-1].Time(), true
}

func (h *history[S]) Value() (float64, bool) {
	if len(h.states) == 0 {
		return 0, false
	}
	return h.states[len(h.states)-1].Value(), true
}

// Last returns the newest state.
func (h *history[S]) Last() (S, bool) {
	var zero S
	if len(h.states) == 0 {
		return zero, false
	}
	return h.states[len(h.states)-1], true
}

// lastFresh returns the newest state only while it can still seed an
// incremental step: once it has aged out of the window entirely, the next
// state must be recomputed from scratch.
func (h *history[S]) lastFresh(now time.Time) (*S, error) {
	if len(h.states) == 0 {
		return nil, nil
	}
	last := h.states[len(h.states)-1]
	if now.Before(last.Time()) {
		return nil, fmt.Errorf("%w: now=%s last=%s", ErrTimeReversal, now, last.Time())
	}
	if !last.Time().After(now.Add(-h.window)) {
		return nil, nil
	}
	return &last, nil
}

// update runs one cycle: pick the incremental seed, call calc, record the
// result. calc returning (nil, nil) skips the cycle quietly, used when the
// source sequence has no events yet.
func (h *history[S]) update(now time.Time, calc func(now time.Time, last *S) (*S, error)) error {
	last, err := h.lastFresh(now)
	if err != nil {
		return err
	}
	st, err := calc(now, last)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	h.states = append(h.states, *st)
	if len(h.states) >= maxHistory {
		h.Flush(false)
	}
	return nil
}

// Flush persists states past the flushed mark and, when the cap forced the
// flush, drops the older half so memory stays bounded over long sessions.
func (h *history[S]) Flush(anyway bool) {
	if len(h.states) < maxHistory && !anyway {
		return
	}
	if h.store != nil && h.flushed < len(h.states) {
		pending := h.states[h.flushed:]
		batch := make([]State, len(pending))
		for i, s := range pending {
			batch[i] = s
		}
		h.store.AppendStates(h.storageKey(), h.serialKey(), batch)
		h.flushed = len(h.states)
	}
	if len(h.states) >= maxHistory {
		keep := len(h.states) / 2
		kept := make([]S, keep)
		copy(kept, h.states[len(h.states)-keep:])
		h.states = kept
		h.flushed = keep
	}
}

func (h *history[S]) storageKey() string {
	return fmt.Sprintf("indicator:%s:%s:%s", h.symbol, h.key, h.sessionTag)
}

func (h *history[S]) serialKey() string {
	return "serial." + h.storageKey()
}

// ChangeRate returns last value minus the value one lookback ago, 0 when the
// history is too short or the reference value is 0. lookback <= 0 uses the
// manager's own window.
func (h *history[S]) ChangeRate(lookback time.Duration) float64 {
	if len(h.states) < 2 {
		return 0
	}
	if lookback <= 0 {
		lookback = h.window
	}
	last := h.states[len(h.states)-1]
	idx, _ := market.IndexRange(h.states, 0, len(h.states),
		last.Time().Add(-lookback), last.Time(), true, true)
	if idx >= len(h.states) {
		idx = len(h.states) - 1
	}
	ref := h.states[idx].Value()
	if ref == 0 {
		return 0
	}
	return last.Value() - ref
}

// tickEnd tracks the volume-weighted aggregates of the trailing run of ticks
// sharing the newest timestamp. The next incremental step re-reads that
// timestamp inclusively, so these amounts are subtracted to avoid double
// counting.
type tickEnd struct {
	count  float64 // volume at the end timestamp
	values float64 // close*volume at the end timestamp
	sqSum  float64 // close^2*volume, used by SD only
}

// countEnd tracks end-of-batch ties by event count rather than aggregate:
// kinds whose incremental step skips the first n events at the seam
// timestamp instead of subtracting their contribution.
type countEnd struct {
	n  int
	ts time.Time
}
