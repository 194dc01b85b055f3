package indicator

import (
	"math"
	"time"

	"tmf-trader/internal/market"
)

// SDStopLossManager maintains a volatility-scaled ratcheting stop line under
// (or over) the price. The offset is sd^1.75 of the paired SD manager, so
// the stop loosens in volatile regimes and tightens in quiet ones.
//
// It reads the SD manager's newest state within the same update cycle, so
// the provider schedules it one dependency level later.
type SDStopLossManager struct {
	history[ScalarState]
	buf *market.Buffer
	sd  *SDManager
}

func NewSDStopLossManager(buf *market.Buffer, sd *SDManager, window time.Duration, sessionTag string, store FlushStore) *SDStopLossManager {
	key := Key{Kind: KindSDStopLoss, Window: window}
	return &SDStopLossManager{
		history: newHistory[ScalarState](key, buf.Symbol(), sessionTag, store, 1),
		buf:     buf,
		sd:      sd,
	}
}

func (m *SDStopLossManager) History() HistoryView { return &m.history }

func (m *SDStopLossManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func (m *SDStopLossManager) calc(now time.Time, last *ScalarState) (*ScalarState, error) {
	tick, ok := m.buf.LatestTick()
	if !ok {
		return nil, ErrNoData
	}
	price := tick.Close
	prevPrice := price
	if prev, ok := m.buf.PrevTick(); ok {
		prevPrice = prev.Close
	}
	var prevStop float64
	if last != nil {
		prevStop = last.Val
	}

	var sd float64
	if v, ok := m.sd.Value(); ok {
		sd = v
	}
	nLoss := math.Pow(sd, 1.75)

	// keyed by where the previous and current prices sit relative to the
	// previous stop: same side ratchets, crossing re-anchors, flat carries
	var stop float64
	prevSide, side := sign(prevPrice-prevStop), sign(price-prevStop)
	switch {
	case side > 0 && prevSide > 0:
		stop = math.Max(prevStop, price-nLoss)
	case side < 0 && prevSide < 0:
		stop = math.Min(prevStop, price+nLoss)
	case side == 0:
		stop = prevStop
	case side > 0:
		stop = price - nLoss
	default:
		stop = price + nLoss
	}
	return &ScalarState{Kind: KindSDStopLoss, TS: now, Val: stop}, nil
}
