package indicator

import (
	"time"

	"tmf-trader/internal/market"
	"tmf-trader/internal/model"
)

// SellBuyRatioManager maintains the normalized imbalance between
// sell-initiated and buy-initiated volume over a trailing window. Positive
// values mean sell pressure dominates.
type SellBuyRatioManager struct {
	history[SellBuyState]
	buf *market.Buffer
	end countEnd
}

func NewSellBuyRatioManager(buf *market.Buffer, window time.Duration, sessionTag string, store FlushStore) *SellBuyRatioManager {
	key := Key{Kind: KindSellBuyRatio, Window: window}
	return &SellBuyRatioManager{
		history: newHistory[SellBuyState](key, buf.Symbol(), sessionTag, store, 0),
		buf:     buf,
	}
}

func (m *SellBuyRatioManager) History() HistoryView { return &m.history }

func (m *SellBuyRatioManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

func (m *SellBuyRatioManager) calc(now time.Time, last *SellBuyState) (*SellBuyState, error) {
	if last == nil {
		return m.fromScratch(now)
	}
	return m.incremental(now, *last)
}

func addSellBuy(st *SellBuyState, t model.Tick) {
	st.Count++
	switch t.TickType {
	case model.TickTypeSell:
		st.Sell += float64(t.Volume)
	case model.TickTypeBuy:
		st.Buy += float64(t.Volume)
	}
}

func subSellBuy(st *SellBuyState, t model.Tick) {
	st.Count--
	switch t.TickType {
	case model.TickTypeSell:
		st.Sell -= float64(t.Volume)
	case model.TickTypeBuy:
		st.Buy -= float64(t.Volume)
	}
}

func (m *SellBuyRatioManager) fromScratch(now time.Time) (*SellBuyState, error) {
	ticks := m.buf.TicksBetween(now.Add(-m.window), now, true, true)
	if len(ticks) == 0 {
		return nil, ErrNoData
	}
	st := SellBuyState{TS: now}
	for _, t := range ticks {
		addSellBuy(&st, t)
	}
	m.collectEnd(ticks)
	return &st, nil
}

func (m *SellBuyRatioManager) incremental(now time.Time, last SellBuyState) (*SellBuyState, error) {
	st := SellBuyState{TS: now, Count: last.Count, Sell: last.Sell, Buy: last.Buy}
	if now.After(last.TS) {
		for _, t := range m.buf.AllTicksBetween(last.TS.Add(-m.window), now.Add(-m.window), true, false) {
			subSellBuy(&st, t)
		}
	}
	added := m.buf.TicksBetween(last.TS, now, true, true)
	for i, t := range added {
		if i < m.end.n && !t.TS.After(m.end.ts) {
			continue
		}
		addSellBuy(&st, t)
	}
	m.collectEnd(added)
	return &st, nil
}

func (m *SellBuyRatioManager) collectEnd(ticks []model.Tick) {
	if len(ticks) == 0 {
		return
	}
	endTS := ticks[len(ticks)-1].TS
	n := 0
	for i := len(ticks) - 1; i >= 0 && ticks[i].TS.Equal(endTS); i-- {
		n++
	}
	m.end = countEnd{n: n, ts: endTS}
}
