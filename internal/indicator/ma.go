package indicator

import (
	"time"

	"tmf-trader/internal/market"
	"tmf-trader/internal/model"
)

// MAManager maintains the volume-weighted moving average of the close price
// over a trailing window.
type MAManager struct {
	history[ScalarState]
	buf *market.Buffer
	end tickEnd
}

func NewMAManager(buf *market.Buffer, window time.Duration, sessionTag string, store FlushStore) *MAManager {
	key := Key{Kind: KindMA, Window: window}
	return &MAManager{
		history: newHistory[ScalarState](key, buf.Symbol(), sessionTag, store, 0),
		buf:     buf,
	}
}

func (m *MAManager) History() HistoryView { return &m.history }

func (m *MAManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

func (m *MAManager) calc(now time.Time, last *ScalarState) (*ScalarState, error) {
	if last == nil {
		return m.fromScratch(now)
	}
	return m.incremental(now, *last)
}

func (m *MAManager) fromScratch(now time.Time) (*ScalarState, error) {
	ticks := m.buf.TicksBetween(now.Add(-m.window), now, true, true)
	if len(ticks) == 0 {
		return nil, ErrNoData
	}
	var count, sum float64
	for _, t := range ticks {
		v := float64(t.Volume)
		count += v
		sum += t.Close * v
	}
	var val float64
	if count != 0 {
		val = sum / count
	}
	m.collectEnd(ticks)
	return &ScalarState{Kind: KindMA, TS: now, Count: count, Val: val}, nil
}

// incremental folds the events that entered since the last state and unfolds
// the ones that slid out, subtracting the previously counted end-timestamp
// run so re-reading the seam inclusively does not double count.
func (m *MAManager) incremental(now time.Time, last ScalarState) (*ScalarState, error) {
	removedVal, removedCount := m.end.values, m.end.count
	if now.After(last.TS) {
		for _, t := range m.buf.AllTicksBetween(last.TS.Add(-m.window), now.Add(-m.window), true, false) {
			v := float64(t.Volume)
			removedCount += v
			removedVal += t.Close * v
		}
	}

	added := m.buf.TicksBetween(last.TS, now, true, true)
	var addedVal, addedCount float64
	for _, t := range added {
		v := float64(t.Volume)
		addedCount += v
		addedVal += t.Close * v
	}

	count := last.Count + addedCount - removedCount
	var val float64
	if count != 0 {
		val = (last.Val*last.Count + addedVal - removedVal) / count
	}
	m.collectEnd(added)
	return &ScalarState{Kind: KindMA, TS: now, Count: count, Val: val}, nil
}

func (m *MAManager) collectEnd(ticks []model.Tick) {
	if len(ticks) == 0 {
		return
	}
	endTS := ticks[len(ticks)-1].TS
	m.end = tickEnd{}
	for i := len(ticks) - 1; i >= 0 && ticks[i].TS.Equal(endTS); i-- {
		v := float64(ticks[i].Volume)
		m.end.count += v
		m.end.values += ticks[i].Close * v
	}
}
