package indicator

import (
	"time"

	"tmf-trader/internal/market"
	"tmf-trader/internal/model"
)

// SDManager maintains the volume-weighted population standard deviation of
// the close price over a trailing window, via running sum and sum of squares.
type SDManager struct {
	history[SDState]
	buf *market.Buffer
	end tickEnd
}

func NewSDManager(buf *market.Buffer, window time.Duration, sessionTag string, store FlushStore) *SDManager {
	key := Key{Kind: KindSD, Window: window}
	return &SDManager{
		history: newHistory[SDState](key, buf.Symbol(), sessionTag, store, 0),
		buf:     buf,
	}
}

func (m *SDManager) History() HistoryView { return &m.history }

func (m *SDManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

func (m *SDManager) calc(now time.Time, last *SDState) (*SDState, error) {
	if last == nil {
		return m.fromScratch(now)
	}
	return m.incremental(now, *last)
}

func (m *SDManager) fromScratch(now time.Time) (*SDState, error) {
	ticks := m.buf.TicksBetween(now.Add(-m.window), now, true, true)
	if len(ticks) == 0 {
		return nil, ErrNoData
	}
	st := SDState{TS: now}
	for _, t := range ticks {
		v := float64(t.Volume)
		st.Count += v
		st.Sum += t.Close * v
		st.SquareSum += t.Close * t.Close * v
	}
	m.collectEnd(ticks)
	return &st, nil
}

func (m *SDManager) incremental(now time.Time, last SDState) (*SDState, error) {
	removed := m.end
	if now.After(last.TS) {
		for _, t := range m.buf.AllTicksBetween(last.TS.Add(-m.window), now.Add(-m.window), true, false) {
			v := float64(t.Volume)
			removed.count += v
			removed.values += t.Close * v
			removed.sqSum += t.Close * t.Close * v
		}
	}

	added := m.buf.TicksBetween(last.TS, now, true, true)
	st := SDState{
		TS:        now,
		Count:     last.Count - removed.count,
		Sum:       last.Sum - removed.values,
		SquareSum: last.SquareSum - removed.sqSum,
	}
	for _, t := range added {
		v := float64(t.Volume)
		st.Count += v
		st.Sum += t.Close * v
		st.SquareSum += t.Close * t.Close * v
	}
	m.collectEnd(added)
	return &st, nil
}

func (m *SDManager) collectEnd(ticks []model.Tick) {
	if len(ticks) == 0 {
		return
	}
	endTS := ticks[len(ticks)-1].TS
	m.end = tickEnd{}
	for i := len(ticks) - 1; i >= 0 && ticks[i].TS.Equal(endTS); i-- {
		v := float64(ticks[i].Volume)
		m.end.count += v
		m.end.values += ticks[i].Close * v
		m.end.sqSum += ticks[i].Close * ticks[i].Close * v
	}
}
