package indicator

import (
	"time"

	"tmf-trader/internal/market"
	"tmf-trader/internal/model"
)

// VMAManager maintains the average traded volume per unit interval over a
// trailing window: total window volume divided by window/unit. Count tracks
// the number of ticks in the window.
type VMAManager struct {
	history[ScalarState]
	buf       *market.Buffer
	intervals float64
	end       tickEnd // count = seam tick count, values = seam volume
}

func NewVMAManager(buf *market.Buffer, window, unit time.Duration, sessionTag string, store FlushStore) *VMAManager {
	key := Key{Kind: KindVMA, Window: window, Unit: unit}
	return &VMAManager{
		history:   newHistory[ScalarState](key, buf.Symbol(), sessionTag, store, 0),
		buf:       buf,
		intervals: float64(window) / float64(unit),
	}
}

func (m *VMAManager) History() HistoryView { return &m.history }

func (m *VMAManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

func (m *VMAManager) calc(now time.Time, last *ScalarState) (*ScalarState, error) {
	if last == nil {
		return m.fromScratch(now)
	}
	return m.incremental(now, *last)
}

func (m *VMAManager) fromScratch(now time.Time) (*ScalarState, error) {
	ticks := m.buf.TicksBetween(now.Add(-m.window), now, true, true)
	if len(ticks) == 0 {
		return nil, ErrNoData
	}
	var vol float64
	for _, t := range ticks {
		vol += float64(t.Volume)
	}
	m.collectEnd(ticks)
	return &ScalarState{Kind: KindVMA, TS: now, Count: float64(len(ticks)), Val: vol / m.intervals}, nil
}

func (m *VMAManager) incremental(now time.Time, last ScalarState) (*ScalarState, error) {
	removedVol, removedN := m.end.values, m.end.count
	if now.After(last.TS) {
		for _, t := range m.buf.AllTicksBetween(last.TS.Add(-m.window), now.Add(-m.window), true, false) {
			removedVol += float64(t.Volume)
			removedN++
		}
	}

	added := m.buf.TicksBetween(last.TS, now, true, true)
	var addedVol float64
	for _, t := range added {
		addedVol += float64(t.Volume)
	}

	val := (last.Val*m.intervals + addedVol - removedVol) / m.intervals
	count := last.Count + float64(len(added)) - removedN
	m.collectEnd(added)
	return &ScalarState{Kind: KindVMA, TS: now, Count: count, Val: val}, nil
}

func (m *VMAManager) collectEnd(ticks []model.Tick) {
	if len(ticks) == 0 {
		return
	}
	endTS := ticks[len(ticks)-1].TS
	m.end = tickEnd{}
	for i := len(ticks) - 1; i >= 0 && ticks[i].TS.Equal(endTS); i-- {
		m.end.count++
		m.end.values += float64(ticks[i].Volume)
	}
}
