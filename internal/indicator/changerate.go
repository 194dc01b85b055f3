package indicator

import (
	"time"
)

// ChangeRateManager fits a least-squares slope over a source manager's
// recent states, in value units per second. It recomputes from scratch every
// cycle: state histories append one entry per tick, so the fit window stays
// small and an incremental path is not worth its seam bookkeeping.
type ChangeRateManager struct {
	history[ChangeRateState]
	source Manager
}

func NewChangeRateManager(source Manager, window time.Duration, sessionTag string, store FlushStore, symbol string) *ChangeRateManager {
	key := Key{Kind: KindChangeRate, Window: window}
	return &ChangeRateManager{
		history: newHistory[ChangeRateState](key, symbol, sessionTag, store, source.Level()+1),
		source:  source,
	}
}

func (m *ChangeRateManager) History() HistoryView { return &m.history }

func (m *ChangeRateManager) Update(now time.Time) error {
	return m.history.update(now, m.calc)
}

func (m *ChangeRateManager) calc(now time.Time, _ *ChangeRateState) (*ChangeRateState, error) {
	src := m.source.History()
	n := src.Len()
	if n == 0 {
		return nil, nil
	}

	start := now.Add(-m.window)
	var count, sumT, sumV, sumTV, sumTT float64
	for i := n - 1; i >= 0; i-- {
		ts, v, ok := src.At(i)
		if !ok || ts.Before(start) {
			break
		}
		t := ts.Sub(start).Seconds()
		count++
		sumT += t
		sumV += v
		sumTV += t * v
		sumTT += t * t
	}
	if count < 2 {
		return &ChangeRateState{TS: now, Count: count}, nil
	}
	denom := count*sumTT - sumT*sumT
	var slope float64
	if denom != 0 {
		slope = (count*sumTV - sumT*sumV) / denom
	}
	return &ChangeRateState{TS: now, Count: count, Slope: slope}, nil
}
