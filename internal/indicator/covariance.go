package indicator

import (
	"time"

	"tmf-trader/internal/market"
	"tmf-trader/internal/model"
)

// covEnd carries the end-timestamp partial sums for the covariance
// accumulators.
type covEnd struct {
	count float64
	sp    float64
	st    float64
	spt   float64
}

// CovarianceManager maintains the volume-weighted covariance between close
// price and time over a trailing window, a trend-strength proxy: positive
// means price rising with time.
type CovarianceManager struct {
	history[CovarianceState]
	buf *market.Buffer
	end covEnd

	// origin anchors the time coordinate near zero. Raw epoch seconds are
	// ~1.7e9; products like price*t*vol then exceed float64's 2^53 integer
	// resolution and the subtraction in Value() cancels catastrophically.
	// Covariance is shift-invariant, so any fixed origin gives the same
	// value; the first observed tick is used.
	origin time.Time
}

func NewCovarianceManager(buf *market.Buffer, window time.Duration, sessionTag string, store FlushStore) *CovarianceManager {
	key := Key{Kind: KindCovariance, Window: window}
	return &CovarianceManager{
		history: newHistory[CovarianceState](key, buf.Symbol(), sessionTag, store, 0),
		buf:     buf,
	}
}

func (m *CovarianceManager) History() HistoryView { return &m.history }

func (m *CovarianceManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

func (m *CovarianceManager) calc(now time.Time, last *CovarianceState) (*CovarianceState, error) {
	if last == nil {
		return m.fromScratch(now)
	}
	return m.incremental(now, *last)
}

// seconds is the time coordinate of the regression, relative to the
// manager's origin.
func (m *CovarianceManager) seconds(ts time.Time) float64 {
	return ts.Sub(m.origin).Seconds()
}

func (m *CovarianceManager) fromScratch(now time.Time) (*CovarianceState, error) {
	ticks := m.buf.TicksBetween(now.Add(-m.window), now, true, true)
	if len(ticks) == 0 {
		return nil, ErrNoData
	}
	if m.origin.IsZero() {
		m.origin = ticks[0].TS
	}
	st := CovarianceState{TS: now}
	for _, t := range ticks {
		v := float64(t.Volume)
		ts := m.seconds(t.TS)
		st.Count += v
		st.SP += t.Close * v
		st.ST += ts * v
		st.SPT += t.Close * ts * v
	}
	m.collectEnd(ticks)
	return &st, nil
}

func (m *CovarianceManager) incremental(now time.Time, last CovarianceState) (*CovarianceState, error) {
	st := CovarianceState{
		TS:    now,
		Count: last.Count - m.end.count,
		SP:    last.SP - m.end.sp,
		ST:    last.ST - m.end.st,
		SPT:   last.SPT - m.end.spt,
	}
	if now.After(last.TS) {
		for _, t := range m.buf.AllTicksBetween(last.TS.Add(-m.window), now.Add(-m.window), true, false) {
			v := float64(t.Volume)
			ts := m.seconds(t.TS)
			st.Count -= v
			st.SP -= t.Close * v
			st.ST -= ts * v
			st.SPT -= t.Close * ts * v
		}
	}
	added := m.buf.TicksBetween(last.TS, now, true, true)
	for _, t := range added {
		v := float64(t.Volume)
		ts := m.seconds(t.TS)
		st.Count += v
		st.SP += t.Close * v
		st.ST += ts * v
		st.SPT += t.Close * ts * v
	}
	m.collectEnd(added)
	return &st, nil
}

func (m *CovarianceManager) collectEnd(ticks []model.Tick) {
	if len(ticks) == 0 {
		return
	}
	endTS := ticks[len(ticks)-1].TS
	m.end = covEnd{}
	for i := len(ticks) - 1; i >= 0 && ticks[i].TS.Equal(endTS); i-- {
		t := ticks[i]
		v := float64(t.Volume)
		ts := m.seconds(t.TS)
		m.end.count += v
		m.end.sp += t.Close * v
		m.end.st += ts * v
		m.end.spt += t.Close * ts * v
	}
}
