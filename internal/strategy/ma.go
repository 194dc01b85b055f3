package strategy

import (
	"log"
	"time"

	"tmf-trader/internal/execution"
	"tmf-trader/internal/indicator"
)

// MAStrategy is a mean-reversion play around the short moving average: buy
// under a rising average, sell over a falling one, and exit on the mirror
// condition.
type MAStrategy struct {
	f        *indicator.Facade
	p        *indicator.Provider
	window   time.Duration
	lookback time.Duration
	qty      int64
	er       *EntryReport
}

func NewMAStrategy(p *indicator.Provider, f *indicator.Facade, qty int64) *MAStrategy {
	if qty <= 0 {
		qty = 1
	}
	s := &MAStrategy{
		f:        f,
		p:        p,
		window:   indicator.LenPMAS,
		lookback: indicator.LenSellBuyChangeRate,
		qty:      qty,
	}
	// register the average and its slope fitter up front; the fitter needs
	// history from every update cycle, not just the cycles after the first
	// signal read
	p.ChangeRate(p.MAManager(s.window), s.lookback)
	return s
}

func (s *MAStrategy) Name() string { return "ma reversion strategy" }

// increasing reports whether the tracked average is sloping up.
func (s *MAStrategy) increasing() bool {
	return s.p.ChangeRate(s.p.MAManager(s.window), s.lookback) > 0
}

func (s *MAStrategy) InSignal() *Suggestion {
	ma := s.f.PMAS.Value()
	price := s.f.Price.Value()
	if ma == 0 || price == 0 {
		return nil
	}
	inc := s.increasing()
	switch {
	case price < ma && inc:
		return &Suggestion{Action: execution.ActionBuy, Qty: s.qty, Reason: "price under rising ma"}
	case price > ma && !inc:
		return &Suggestion{Action: execution.ActionSell, Qty: s.qty, Reason: "price over falling ma"}
	}
	return nil
}

func (s *MAStrategy) ReportEntry(er EntryReport) {
	s.er = &er
	log.Printf("[ma-strategy] entry: time=%s price=%.1f action=%s qty=%d",
		er.DealTime.Format(time.RFC3339), er.Price, er.Action, er.Qty)
}

func (s *MAStrategy) OutSignal() *Suggestion {
	if s.er == nil {
		return nil
	}
	ma := s.f.PMAS.Value()
	price := s.f.Price.Value()
	if ma == 0 || price == 0 {
		return nil
	}
	inc := s.increasing()

	switch s.er.Action {
	case execution.ActionBuy:
		if price > ma && !inc {
			return &Suggestion{Action: execution.ActionSell, Qty: s.er.Qty, Reason: "ma exit long"}
		}
	case execution.ActionSell:
		if price < ma && inc {
			return &Suggestion{Action: execution.ActionBuy, Qty: s.er.Qty, Reason: "ma exit short"}
		}
	}
	return nil
}
