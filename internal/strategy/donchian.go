package strategy

import (
	"log"
	"time"

	"tmf-trader/internal/execution"
	"tmf-trader/internal/indicator"
)

// DonchianStrategy trades channel breakouts in trending regimes: enter with
// a confirmed high breakout backed by order flow, exit on the fast channel
// turning or the trailing stop giving way.
type DonchianStrategy struct {
	f       *indicator.Facade
	trail   *indicator.TrailingStop
	windows []activeWindow
	qty     int64
	er      *EntryReport

	// entry gates
	minSD       float64
	minHHAccum  int
	maxDistance float64
	maxIdle     int

	trailMult    float64
	trailMaxLoss float64
}

func NewDonchianStrategy(f *indicator.Facade, qty int64) *DonchianStrategy {
	if qty <= 0 {
		qty = 1
	}
	return &DonchianStrategy{
		f:     f,
		qty:   qty,
		trail: indicator.NewTrailingStop(f.SD.Value),
		windows: []activeWindow{
			{Start: 8*time.Hour + 50*time.Minute, End: 13*time.Hour + 30*time.Minute},
		},
		minSD:        6,
		minHHAccum:   2,
		maxDistance:  55,
		maxIdle:      20,
		trailMult:    2,
		trailMaxLoss: 60,
	}
}

func (s *DonchianStrategy) Name() string { return "donchian trend strategy" }

func (s *DonchianStrategy) InSignal() *Suggestion {
	if !inAnyWindow(s.f.Now(), s.windows) {
		return nil
	}
	if s.f.SD.Value() < s.minSD {
		return nil
	}
	st, ok := s.f.Donchian()
	if !ok {
		return nil
	}

	price := s.f.Price.Value()
	h25 := st.H - (st.H-st.L)*0.25
	dist := price - h25
	if st.HBreak &&
		st.HHAccum >= s.minHHAccum &&
		dist > 0 && dist < s.maxDistance &&
		s.f.SellBuyRatio.Value() > 0 {
		return &Suggestion{Action: execution.ActionBuy, Qty: s.qty, Reason: "donchian high breakout"}
	}

	l25 := st.L + (st.H-st.L)*0.25
	dist = l25 - price
	if st.LBreak &&
		st.LLAccum >= s.minHHAccum &&
		dist > 0 && dist < s.maxDistance &&
		s.f.SellBuyRatio.Value() < 0 {
		return &Suggestion{Action: execution.ActionSell, Qty: s.qty, Reason: "donchian low breakout"}
	}
	return nil
}

func (s *DonchianStrategy) ReportEntry(er EntryReport) {
	s.er = &er
	s.trail.Reset()
	log.Printf("[donchian-strategy] entry: time=%s price=%.1f action=%s qty=%d",
		er.DealTime.Format(time.RFC3339), er.Price, er.Action, er.Qty)
}

func (s *DonchianStrategy) OutSignal() *Suggestion {
	if s.er == nil {
		return nil
	}
	price := s.f.Price.Value()
	if price == 0 {
		return nil
	}
	long := s.er.Action == execution.ActionBuy

	stop, err := s.trail.Calc(long, price, s.trailMult, s.trailMaxLoss)
	if err != nil {
		log.Printf("[donchian-strategy] trailing stop: %v", err)
		return nil
	}
	if long && price <= stop {
		return &Suggestion{Action: execution.ActionSell, Qty: s.er.Qty, Reason: "trailing stop"}
	}
	if !long && price >= stop {
		return &Suggestion{Action: execution.ActionBuy, Qty: s.er.Qty, Reason: "trailing stop"}
	}

	fast, ok := s.f.DonchianShort()
	if !ok {
		return nil
	}
	slow, _ := s.f.Donchian()

	if long {
		if (fast.LLAccum > 0 && fast.LHAccum > 0) || slow.IdleAccum > s.maxIdle {
			return &Suggestion{Action: execution.ActionSell, Qty: s.er.Qty, Reason: "channel turned down"}
		}
	} else {
		if slow.HHAccum > 0 || s.f.SellBuyRatio.Value() > 0 {
			return &Suggestion{Action: execution.ActionBuy, Qty: s.er.Qty, Reason: "channel turned up"}
		}
	}
	return nil
}
