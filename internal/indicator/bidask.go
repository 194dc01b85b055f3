package indicator

import (
	"time"

	"tmf-trader/internal/market"
	"tmf-trader/internal/model"
)

// BidAskRatioManager maintains bid/(bid+ask) over the bid-ask event window.
// Values above 0.5 mean resting buy interest outweighs sell interest.
//
// Updates ride the tick clock but read the bid-ask sequence; before the
// first bid-ask event arrives the cycle is skipped rather than failed, since
// the two streams start independently.
type BidAskRatioManager struct {
	history[BidAskState]
	buf *market.Buffer
	end countEnd
}

func NewBidAskRatioManager(buf *market.Buffer, window time.Duration, sessionTag string, store FlushStore) *BidAskRatioManager {
	key := Key{Kind: KindBidAskRatio, Window: window}
	return &BidAskRatioManager{
		history: newHistory[BidAskState](key, buf.Symbol(), sessionTag, store, 0),
		buf:     buf,
	}
}

func (m *BidAskRatioManager) History() HistoryView { return &m.history }

func (m *BidAskRatioManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

func (m *BidAskRatioManager) calc(now time.Time, last *BidAskState) (*BidAskState, error) {
	if last == nil {
		return m.fromScratch(now)
	}
	return m.incremental(now, *last)
}

func (m *BidAskRatioManager) fromScratch(now time.Time) (*BidAskState, error) {
	bas := m.buf.BidAsksBetween(now.Add(-m.window), now, true, true)
	if len(bas) == 0 {
		return nil, nil
	}
	st := BidAskState{TS: now}
	for _, ba := range bas {
		st.Count++
		st.Bid += float64(ba.BidVolume)
		st.Ask += float64(ba.AskVolume)
	}
	m.collectEnd(bas)
	return &st, nil
}

func (m *BidAskRatioManager) incremental(now time.Time, last BidAskState) (*BidAskState, error) {
	st := BidAskState{TS: now, Count: last.Count, Bid: last.Bid, Ask: last.Ask}
	if now.After(last.TS) {
		for _, ba := range m.buf.AllBidAsksBetween(last.TS.Add(-m.window), now.Add(-m.window), true, false) {
			st.Count--
			st.Bid -= float64(ba.BidVolume)
			st.Ask -= float64(ba.AskVolume)
		}
	}
	added := m.buf.BidAsksBetween(last.TS, now, true, true)
	for i, ba := range added {
		if i < m.end.n && !ba.TS.After(m.end.ts) {
			continue
		}
		st.Count++
		st.Bid += float64(ba.BidVolume)
		st.Ask += float64(ba.AskVolume)
	}
	m.collectEnd(added)
	return &st, nil
}

func (m *BidAskRatioManager) collectEnd(bas []model.BidAsk) {
	if len(bas) == 0 {
		return
	}
	endTS := bas[len(bas)-1].TS
	n := 0
	for i := len(bas) - 1; i >= 0 && bas[i].TS.Equal(endTS); i-- {
		n++
	}
	m.end = countEnd{n: n, ts: endTS}
}
