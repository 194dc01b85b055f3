package strategy

import (
	"context"
	"log"
	"sync"
	"time"

	"tmf-trader/internal/execution"
	"tmf-trader/internal/indicator"
	"tmf-trader/internal/market"
	"tmf-trader/internal/metrics"
)

// Runner drives the consumer side of the tick loop for one symbol. While
// flat it polls every strategy's InSignal in order; after an entry fills,
// only the entering strategy's OutSignal is polled until the position
// closes.
type Runner struct {
	buf      *market.Buffer
	provider *indicator.Provider
	placer   execution.Placer
	mets     *metrics.Metrics

	strategies []Strategy

	mu      sync.Mutex
	running bool
	done    chan struct{}
	active  int // index of the strategy holding the position, -1 when flat

	// CloseAllOnStop flattens positions during Stop. On by default; replay
	// and analysis runs turn it off.
	CloseAllOnStop bool
}

func NewRunner(buf *market.Buffer, provider *indicator.Provider, placer execution.Placer, mets *metrics.Metrics, strategies ...Strategy) *Runner {
	return &Runner{
		buf:            buf,
		provider:       provider,
		placer:         placer,
		mets:           mets,
		strategies:     strategies,
		done:           make(chan struct{}),
		active:         -1,
		CloseAllOnStop: true,
	}
}

// Start launches the strategy loop goroutine.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()
	go r.loop()
}

func (r *Runner) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Stop clears the run flag, forces the tick signal so the loop observes the
// flag, waits for it to exit, flushes indicator history and optionally
// flattens positions.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.buf.Stop()
	<-r.done

	r.provider.Stop()
	if r.CloseAllOnStop {
		if err := r.placer.CloseAll(ctx, "runner stopped"); err != nil {
			log.Printf("[runner] close all: %v", err)
		}
	}
	log.Printf("[runner] stopped")
}

func (r *Runner) loop() {
	defer close(r.done)
	log.Printf("[runner] loop started with %d strategies", len(r.strategies))

	for r.isRunning() {
		start := time.Now()
		if !r.provider.WaitAndUpdate() {
			break
		}
		r.mets.ObserveUpdate(start)

		if !r.provider.Healthy() {
			r.abort()
			break
		}
		r.step()
	}
	log.Printf("[runner] loop stopped")
}

// abort stops trading on persistently failing indicators: flatten first, then
// flush. Runs inside the loop goroutine, so it must not wait on done.
func (r *Runner) abort() {
	log.Printf("[runner] indicators unhealthy, aborting strategy loop")
	if r.mets != nil {
		r.mets.CycleAborts.Inc()
	}
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.placer.CloseAll(ctx, "indicators unhealthy"); err != nil {
		log.Printf("[runner] close all: %v", err)
	}
	r.provider.Stop()
}

// Step advances the indicators to now and runs one strategy evaluation.
// Replay drives the runner with Step instead of Start.
func (r *Runner) Step(now time.Time) {
	r.provider.Update(now)
	r.step()
}

func (r *Runner) step() {
	if r.active >= 0 {
		if r.exit(r.strategies[r.active]) {
			r.active = -1
		}
		return
	}
	for i, s := range r.strategies {
		if r.enter(s) {
			r.active = i
			break
		}
	}
}

// enter places the strategy's entry suggestion and reports the fill back.
func (r *Runner) enter(s Strategy) bool {
	sug := s.InSignal()
	if sug == nil {
		return false
	}
	fill, ok := r.place(s, sug)
	if !ok {
		return false
	}
	s.ReportEntry(EntryReport{
		Action:   fill.Action,
		Qty:      fill.Qty,
		Price:    fill.Price,
		DealTime: fill.FilledAt,
	})
	return true
}

// exit places the strategy's exit suggestion; true once the position closed.
func (r *Runner) exit(s Strategy) bool {
	sug := s.OutSignal()
	if sug == nil {
		return false
	}
	_, ok := r.place(s, sug)
	return ok
}

func (r *Runner) place(s Strategy, sug *Suggestion) (execution.Fill, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, err := r.placer.Place(ctx, execution.Order{
		Symbol:   r.buf.Symbol(),
		Action:   sug.Action,
		Qty:      sug.Qty,
		Strategy: s.Name(),
		Reason:   sug.Reason,
	})
	if err != nil {
		log.Printf("[runner] place %s: %v", s.Name(), err)
		return execution.Fill{}, false
	}
	fill, err := r.placer.WaitForFill(ctx, id)
	if err != nil {
		log.Printf("[runner] wait for fill %s: %v", s.Name(), err)
		return execution.Fill{}, false
	}
	if r.mets != nil {
		r.mets.FillsTotal.WithLabelValues(string(fill.Action)).Inc()
	}
	r.refreshPositions()
	return fill, true
}

func (r *Runner) refreshPositions() {
	if r.mets == nil {
		return
	}
	var long, short int64
	for _, p := range r.placer.Positions() {
		if p.Action == execution.ActionBuy {
			long += p.Qty
		} else {
			short += p.Qty
		}
	}
	r.mets.PositionsQty.WithLabelValues("long").Set(float64(long))
	r.mets.PositionsQty.WithLabelValues("short").Set(float64(short))
}
