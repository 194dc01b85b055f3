package indicator

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tmf-trader/internal/market"
	"tmf-trader/internal/model"
)

func newTestProvider(t *testing.T) (*Provider, *market.Buffer) {
	t.Helper()
	buf := market.NewBuffer("TMFR1", market.Config{})
	return NewProvider(buf, nil, "2025.03.14", nil), buf
}

func TestProvider_DeduplicatesByKey(t *testing.T) {
	p, _ := newTestProvider(t)
	a := p.MAManager(time.Minute)
	b := p.MAManager(time.Minute)
	if a != b {
		t.Fatal("same key must return the same manager")
	}
	if c := p.MAManager(2 * time.Minute); c == a {
		t.Fatal("different window must build a different manager")
	}
	if p.VMAManager(time.Minute, time.Second) == p.VMAManager(time.Minute, 2*time.Second) {
		t.Fatal("unit must be part of the key")
	}
}

func TestProvider_LookupUnregisteredFails(t *testing.T) {
	p, _ := newTestProvider(t)
	if _, err := p.Lookup(Key{Kind: KindMA, Window: time.Minute}); err == nil {
		t.Fatal("lookup of never-created manager must fail")
	}
	p.MAManager(time.Minute)
	if _, err := p.Lookup(Key{Kind: KindMA, Window: time.Minute}); err != nil {
		t.Fatalf("lookup after creation: %v", err)
	}
}

func TestProvider_LateManagerCatchesUp(t *testing.T) {
	p, buf := newTestProvider(t)
	appendTick(t, buf, 0, 100, 10, model.TickTypeBuy)
	p.Update(testBase)

	// created after the cycle ran: must still hold a state for this cycle
	m := p.MAManager(time.Minute)
	v, ok := m.Value()
	if !ok || v != 100 {
		t.Fatalf("late manager value = %v (ok=%v), want 100", v, ok)
	}
}

// failingManager always errors; its siblings must still update.
type failingManager struct {
	history[ScalarState]
	calls atomic.Int64
}

func (f *failingManager) History() HistoryView { return &f.history }

func (f *failingManager) Update(time.Time) error {
	f.calls.Add(1)
	return errors.New("boom")
}

func TestProvider_ErrorIsolation(t *testing.T) {
	p, buf := newTestProvider(t)
	appendTick(t, buf, 0, 100, 10, model.TickTypeBuy)

	fail := &failingManager{history: newHistory[ScalarState](Key{Kind: KindMA, Window: time.Second}, "TMFR1", "s", nil, 0)}
	p.managers[fail.Key()] = fail
	p.register(fail)
	ok := p.MAManager(time.Minute)

	p.Update(testBase)
	if fail.calls.Load() == 0 {
		t.Fatal("failing manager never ran")
	}
	if v, has := ok.Value(); !has || v != 100 {
		t.Fatalf("sibling value = %v (ok=%v) after isolated failure", v, has)
	}
}

func TestProvider_UnhealthyAfterRepeatedFailures(t *testing.T) {
	p, buf := newTestProvider(t)
	appendTick(t, buf, 0, 100, 10, model.TickTypeBuy)

	fail := &failingManager{history: newHistory[ScalarState](Key{Kind: KindMA, Window: time.Second}, "TMFR1", "s", nil, 0)}
	p.managers[fail.Key()] = fail
	p.register(fail)

	for i := 0; i < maxConsecutiveFailures-1; i++ {
		p.Update(testBase)
	}
	if !p.Healthy() {
		t.Fatal("provider unhealthy before the failure threshold")
	}
	p.Update(testBase)
	if p.Healthy() {
		t.Fatal("provider still healthy after repeated failures")
	}
}

// levelProbe records the order levels completed in.
type levelProbe struct {
	history[ScalarState]
	order *[]int
	mu    chan struct{}
	level int
}

func (l *levelProbe) History() HistoryView { return &l.history }
func (l *levelProbe) Level() int           { return l.level }

func (l *levelProbe) Update(time.Time) error {
	l.mu <- struct{}{}
	*l.order = append(*l.order, l.level)
	<-l.mu
	return nil
}

func TestProvider_LevelsRunInOrder(t *testing.T) {
	p, buf := newTestProvider(t)
	appendTick(t, buf, 0, 100, 10, model.TickTypeBuy)

	var order []int
	gate := make(chan struct{}, 1)
	for lvl := 2; lvl >= 0; lvl-- { // register out of order on purpose
		probe := &levelProbe{
			history: newHistory[ScalarState](Key{Kind: KindMA, Window: time.Duration(lvl+1) * time.Hour}, "TMFR1", "s", nil, lvl),
			order:   &order,
			mu:      gate,
			level:   lvl,
		}
		p.managers[probe.Key()] = probe
		p.register(probe)
	}

	p.Update(testBase)
	if len(order) != 3 {
		t.Fatalf("ran %d updates, want 3", len(order))
	}
	for i, lvl := range order {
		if lvl != i {
			t.Fatalf("level order = %v, want ascending", order)
		}
	}
}

func TestProvider_SDStopRegistersDependency(t *testing.T) {
	p, _ := newTestProvider(t)
	stop := p.SDStopLossManager(LenSD)
	if stop.Level() != 1 {
		t.Fatalf("stop level = %d, want 1", stop.Level())
	}
	if _, err := p.Lookup(Key{Kind: KindSD, Window: LenSD}); err != nil {
		t.Fatalf("sd dependency not auto-registered: %v", err)
	}
}

func TestFacade_ZeroBeforeFirstState(t *testing.T) {
	p, _ := newTestProvider(t)
	f := NewFacade(p)

	for _, u := range []Unit{
		f.Price, f.PMAP, f.PMAL, f.VMAS, f.VolumeRatio, f.SellBuyRatio,
		f.SD, f.BBUpper, f.BBWidth, f.CovarianceLong, f.BidAskRatio,
		f.DonchianH, f.DonchianPivot, f.SDStopLoss,
	} {
		if v := u.Value(); v != 0 {
			t.Fatalf("%s = %v before any tick, want 0", u.Name(), v)
		}
	}
}

func TestFacade_BollingerBandsFromUnits(t *testing.T) {
	p, buf := newTestProvider(t)
	f := NewFacade(p)

	appendTick(t, buf, 0, 100, 10, model.TickTypeBuy)
	p.Update(testBase)
	appendTick(t, buf, time.Second, 110, 10, model.TickTypeBuy)
	p.Update(testBase.Add(time.Second))

	// pma_l = 105, sd = 5, times 2
	if v := f.PMAL.Value(); !almostEqual(v, 105) {
		t.Fatalf("pma_l = %v, want 105", v)
	}
	if v := f.BBUpper.Value(); !almostEqual(v, 115) {
		t.Fatalf("bb_upper = %v, want 115", v)
	}
	if v := f.BBLower.Value(); !almostEqual(v, 95) {
		t.Fatalf("bb_lower = %v, want 95", v)
	}
	if v := f.BBWidth.Value(); !almostEqual(v, 10) {
		t.Fatalf("bb_width = %v, want 10", v)
	}
}

func TestProvider_StopFlushesAll(t *testing.T) {
	buf := market.NewBuffer("TMFR1", market.Config{})
	store := &recordingStore{}
	p := NewProvider(buf, store, "2025.03.14", nil)

	appendTick(t, buf, 0, 100, 10, model.TickTypeBuy)
	p.Update(testBase)
	p.MAManager(time.Minute)
	p.SDManager(time.Minute)

	p.Stop()
	if len(store.batches) != 2 {
		t.Fatalf("flushed %d batches at stop, want 2", len(store.batches))
	}
}
