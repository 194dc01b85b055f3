package indicator

import (
	"time"

	"tmf-trader/internal/market"
)

// timedVal is one deque entry: the batch extreme observed at an update time.
type timedVal struct {
	ts time.Time
	v  float64
}

// DonchianManager maintains a rolling price channel with two monotonic
// deques (sliding-window maximum and minimum, amortized O(1) per update)
// plus the derived breakout, streak, idle and pivot signals strategies
// consume.
type DonchianManager struct {
	history[DonchianState]
	buf *market.Buffer

	hq []timedVal // values non-increasing front to back
	lq []timedVal // values non-decreasing front to back

	pivotSerial int64
	lastIdleAdd time.Time
}

func NewDonchianManager(buf *market.Buffer, window time.Duration, sessionTag string, store FlushStore) *DonchianManager {
	key := Key{Kind: KindDonchian, Window: window}
	return &DonchianManager{
		history: newHistory[DonchianState](key, buf.Symbol(), sessionTag, store, 0),
		buf:     buf,
	}
}

func (m *DonchianManager) History() HistoryView { return &m.history }

func (m *DonchianManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

// Latest returns the full newest channel state for strategy consumers.
func (m *DonchianManager) Latest() (DonchianState, bool) {
	return m.Last()
}

func (m *DonchianManager) calc(now time.Time, last *DonchianState) (*DonchianState, error) {
	left := now.Add(-m.window)
	if last != nil {
		left = last.TS
	}
	ticks := m.buf.TicksBetween(left, now, true, true)
	if len(ticks) == 0 {
		return nil, ErrNoData
	}
	hi, lo := ticks[0].Close, ticks[0].Close
	for _, t := range ticks[1:] {
		if t.Close > hi {
			hi = t.Close
		}
		if t.Close < lo {
			lo = t.Close
		}
	}

	windowLeft := now.Add(-m.window)
	m.hq = maintainQ(m.hq, now, hi, windowLeft, func(back, v float64) bool { return back <= v })
	m.lq = maintainQ(m.lq, now, lo, windowLeft, func(back, v float64) bool { return back >= v })

	st := DonchianState{TS: now, H: m.hq[0].v, L: m.lq[0].v}
	if last == nil {
		return &st, nil
	}

	st.PivotPrice = last.PivotPrice
	st.PivotSerial = last.PivotSerial

	switch {
	case st.H > last.H:
		st.HBreak = true
		st.HHAccum = last.HHAccum + 1
		st.IdleAccum = 0
		m.lastIdleAdd = time.Time{}
		if last.LLAccum > 0 {
			// down-streak just broke: the batch high is the reversal pivot
			m.pivotSerial++
			st.PivotPrice = hi
			st.PivotSerial = m.pivotSerial
		}
	case st.L < last.L:
		st.LBreak = true
		st.LLAccum = last.LLAccum + 1
		st.IdleAccum = 0
		m.lastIdleAdd = time.Time{}
		if last.HHAccum > 0 {
			m.pivotSerial++
			st.PivotPrice = lo
			st.PivotSerial = m.pivotSerial
		}
	default:
		st.HHAccum = last.HHAccum
		st.LLAccum = last.LLAccum
		st.IdleAccum = last.IdleAccum
		if m.lastIdleAdd.IsZero() || now.After(m.lastIdleAdd.Add(time.Second)) {
			st.IdleAccum++
			m.lastIdleAdd = now
		}
	}

	// secondary streaks: lows rising under a quiet high, highs falling over a
	// quiet low
	st.HLAccum = last.HLAccum
	st.LHAccum = last.LHAccum
	switch {
	case st.L > last.L:
		st.HLAccum++
	case st.L < last.L:
		st.HLAccum = 0
	}
	switch {
	case st.H < last.H:
		st.LHAccum++
	case st.H > last.H:
		st.LHAccum = 0
	}
	return &st, nil
}

// maintainQ expires front entries older than windowLeft, pops back entries
// the new value dominates, then appends the new entry.
func maintainQ(q []timedVal, now time.Time, v float64, windowLeft time.Time, dominated func(back, v float64) bool) []timedVal {
	start := 0
	for start < len(q) && q[start].ts.Before(windowLeft) {
		start++
	}
	q = q[start:]
	for len(q) > 0 && dominated(q[len(q)-1].v, v) {
		q = q[:len(q)-1]
	}
	return append(q, timedVal{ts: now, v: v})
}
