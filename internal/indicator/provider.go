package indicator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tmf-trader/internal/market"
)

// DefaultWorkers bounds the per-level update fan-out.
const DefaultWorkers = 8

type crKey struct {
	src    Key
	window time.Duration
}

// Provider owns the manager registry for one symbol: at most one manager per
// key, created lazily on first request and kept up to date every cycle from
// then on.
//
// Update runs dependency levels strictly in ascending order, all managers
// within a level concurrently on a bounded pool, so a level-N manager never
// reads a dependency's value from the previous tick.
type Provider struct {
	buf        *market.Buffer
	store      FlushStore
	sessionTag string
	workers    int
	log        *slog.Logger

	mu       sync.Mutex
	now      time.Time
	managers map[Key]Manager
	change   map[crKey]*ChangeRateManager
	levels   [][]Manager

	failMu  sync.Mutex
	failing map[string]int

	// OnManagerError and OnManagerCount are optional instrumentation hooks.
	OnManagerError func(manager string)
	OnManagerCount func(n int)
}

// maxConsecutiveFailures is how many cycles a manager may fail in a row
// before the provider reports unhealthy and the runner aborts.
const maxConsecutiveFailures = 30

func NewProvider(buf *market.Buffer, store FlushStore, sessionTag string, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		buf:        buf,
		store:      store,
		sessionTag: sessionTag,
		workers:    DefaultWorkers,
		log:        log.With("component", "provider", "symbol", buf.Symbol()),
		managers:   make(map[Key]Manager),
		change:     make(map[crKey]*ChangeRateManager),
		failing:    make(map[string]int),
	}
}

// Now returns the timestamp of the current update cycle.
func (p *Provider) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// WaitAndUpdate blocks for the next tick signal and runs one update cycle.
// Returns false once the buffer is stopped.
func (p *Provider) WaitAndUpdate() bool {
	if !p.buf.WaitForTick() {
		return false
	}
	if t, ok := p.buf.LatestTick(); ok {
		p.Update(t.TS)
	}
	return true
}

// Update advances every registered manager to now, level by level. Manager
// failures are logged and isolated: siblings and later levels still run.
func (p *Provider) Update(now time.Time) {
	p.mu.Lock()
	p.now = now
	levels := make([][]Manager, len(p.levels))
	copy(levels, p.levels)
	p.mu.Unlock()

	for _, level := range levels {
		p.updateLevel(level, now)
	}
}

func (p *Provider) updateLevel(managers []Manager, now time.Time) {
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		sem <- struct{}{}
		go func(m Manager) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := m.Update(now); err != nil {
				p.log.Warn("indicator update failed",
					"manager", m.Key().String(), "now", now, "err", err)
				p.recordFailure(m.Key().String())
				if p.OnManagerError != nil {
					p.OnManagerError(m.Key().String())
				}
			} else {
				p.clearFailure(m.Key().String())
			}
		}(m)
	}
	wg.Wait()
}

func (p *Provider) recordFailure(manager string) {
	p.failMu.Lock()
	p.failing[manager]++
	p.failMu.Unlock()
}

func (p *Provider) clearFailure(manager string) {
	p.failMu.Lock()
	delete(p.failing, manager)
	p.failMu.Unlock()
}

// Healthy reports whether every manager has produced a state recently. A
// manager failing many cycles in a row means its aggregates can no longer be
// trusted, and the strategy loop should stop rather than trade on them.
func (p *Provider) Healthy() bool {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	for _, n := range p.failing {
		if n >= maxConsecutiveFailures {
			return false
		}
	}
	return true
}

// register adds a freshly built manager and brings it up to the current
// cycle so the caller reads a value consistent with its siblings.
func (p *Provider) register(m Manager) {
	lvl := m.Level()
	for len(p.levels) <= lvl {
		p.levels = append(p.levels, nil)
	}
	p.levels[lvl] = append(p.levels[lvl], m)

	if p.OnManagerCount != nil {
		n := 0
		for _, level := range p.levels {
			n += len(level)
		}
		p.OnManagerCount(n)
	}

	if !p.now.IsZero() {
		if err := m.Update(p.now); err != nil {
			p.log.Warn("initial indicator update failed",
				"manager", m.Key().String(), "now", p.now, "err", err)
		}
	}
}

func (p *Provider) ensure(key Key, build func() Manager) Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.managers[key]; ok {
		return m
	}
	m := build()
	p.managers[key] = m
	p.register(m)
	return m
}

// Lookup returns an already-registered manager. Requesting a key that was
// never created through a typed accessor is a usage error.
func (p *Provider) Lookup(key Key) (Manager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.managers[key]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("indicator: no manager registered for %s", key)
}

// MAManager returns the volume-weighted moving average manager for window.
func (p *Provider) MAManager(window time.Duration) *MAManager {
	key := Key{Kind: KindMA, Window: window}
	return p.ensure(key, func() Manager {
		return NewMAManager(p.buf, window, p.sessionTag, p.store)
	}).(*MAManager)
}

// MA returns the current moving average, 0 before the first state.
func (p *Provider) MA(window time.Duration) float64 {
	v, _ := p.MAManager(window).Value()
	return v
}

// SDManager returns the standard deviation manager for window.
func (p *Provider) SDManager(window time.Duration) *SDManager {
	key := Key{Kind: KindSD, Window: window}
	return p.ensure(key, func() Manager {
		return NewSDManager(p.buf, window, p.sessionTag, p.store)
	}).(*SDManager)
}

// SD returns the current standard deviation, 0 before the first state.
func (p *Provider) SD(window time.Duration) float64 {
	v, _ := p.SDManager(window).Value()
	return v
}

// VMAManager returns the volume moving average manager for window and unit.
func (p *Provider) VMAManager(window, unit time.Duration) *VMAManager {
	key := Key{Kind: KindVMA, Window: window, Unit: unit}
	return p.ensure(key, func() Manager {
		return NewVMAManager(p.buf, window, unit, p.sessionTag, p.store)
	}).(*VMAManager)
}

// VMA returns the current per-unit volume average scaled by times.
func (p *Provider) VMA(window, unit time.Duration, times float64) float64 {
	v, _ := p.VMAManager(window, unit).Value()
	return v * times
}

// CovarianceManager returns the price-vs-time covariance manager for window.
func (p *Provider) CovarianceManager(window time.Duration) *CovarianceManager {
	key := Key{Kind: KindCovariance, Window: window}
	return p.ensure(key, func() Manager {
		return NewCovarianceManager(p.buf, window, p.sessionTag, p.store)
	}).(*CovarianceManager)
}

// Covariance returns the current price-vs-time covariance.
func (p *Provider) Covariance(window time.Duration) float64 {
	v, _ := p.CovarianceManager(window).Value()
	return v
}

// SellBuyRatioManager returns the sell/buy imbalance manager for window.
func (p *Provider) SellBuyRatioManager(window time.Duration) *SellBuyRatioManager {
	key := Key{Kind: KindSellBuyRatio, Window: window}
	return p.ensure(key, func() Manager {
		return NewSellBuyRatioManager(p.buf, window, p.sessionTag, p.store)
	}).(*SellBuyRatioManager)
}

// SellBuyRatio returns the current signed sell/buy volume imbalance.
func (p *Provider) SellBuyRatio(window time.Duration) float64 {
	v, _ := p.SellBuyRatioManager(window).Value()
	return v
}

// SellBuyRatioChangeRate returns the simple difference between the current
// ratio and the ratio one lookback ago, from the manager's own history.
func (p *Provider) SellBuyRatioChangeRate(window, lookback time.Duration) float64 {
	return p.SellBuyRatioManager(window).ChangeRate(lookback)
}

// BidAskRatioManager returns the bid/ask interest manager for window.
func (p *Provider) BidAskRatioManager(window time.Duration) *BidAskRatioManager {
	key := Key{Kind: KindBidAskRatio, Window: window}
	return p.ensure(key, func() Manager {
		return NewBidAskRatioManager(p.buf, window, p.sessionTag, p.store)
	}).(*BidAskRatioManager)
}

// BidAskRatio returns the current bid/(bid+ask) ratio.
func (p *Provider) BidAskRatio(window time.Duration) float64 {
	v, _ := p.BidAskRatioManager(window).Value()
	return v
}

// DonchianManager returns the channel manager for window.
func (p *Provider) DonchianManager(window time.Duration) *DonchianManager {
	key := Key{Kind: KindDonchian, Window: window}
	return p.ensure(key, func() Manager {
		return NewDonchianManager(p.buf, window, p.sessionTag, p.store)
	}).(*DonchianManager)
}

// Donchian returns the full newest channel state.
func (p *Provider) Donchian(window time.Duration) (DonchianState, bool) {
	return p.DonchianManager(window).Latest()
}

// SDStopLossManager returns the volatility stop manager for window, creating
// its SD dependency as needed.
func (p *Provider) SDStopLossManager(window time.Duration) *SDStopLossManager {
	sd := p.SDManager(window)
	key := Key{Kind: KindSDStopLoss, Window: window}
	return p.ensure(key, func() Manager {
		return NewSDStopLossManager(p.buf, sd, window, p.sessionTag, p.store)
	}).(*SDStopLossManager)
}

// SDStopLoss returns the current volatility stop level.
func (p *Provider) SDStopLoss(window time.Duration) float64 {
	v, _ := p.SDStopLossManager(window).Value()
	return v
}

// ChangeRate returns the least-squares slope of source's history over
// lookback, registering the fitting manager on first use.
func (p *Provider) ChangeRate(source Manager, lookback time.Duration) float64 {
	ck := crKey{src: source.Key(), window: lookback}
	p.mu.Lock()
	m, ok := p.change[ck]
	if !ok {
		m = NewChangeRateManager(source, lookback, p.sessionTag, p.store, p.buf.Symbol())
		p.change[ck] = m
		p.register(m)
	}
	p.mu.Unlock()
	v, _ := m.Value()
	return v
}

// LatestPrice returns the newest close, 0 before the first tick.
func (p *Provider) LatestPrice() float64 {
	if t, ok := p.buf.LatestTick(); ok {
		return t.Close
	}
	return 0
}

// Managers returns all registered managers ordered by key string, for
// inspection and shutdown.
func (p *Provider) Managers() []Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Manager, 0, len(p.managers)+len(p.change))
	for _, m := range p.managers {
		out = append(out, m)
	}
	for _, m := range p.change {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Stop force-flushes every manager's unflushed history. Called once at
// session teardown.
func (p *Provider) Stop() {
	for _, m := range p.Managers() {
		m.Flush(true)
	}
}
