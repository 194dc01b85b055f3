// Package strategy decides entries and exits from facade readings and hands
// suggestions to the execution layer. The Runner owns the consumer side of
// the tick loop: wait, update indicators, ask strategies, place, wait for
// the deal, refresh positions.
package strategy

import (
	"time"

	"tmf-trader/internal/execution"
)

// Suggestion is one actionable signal from a strategy.
type Suggestion struct {
	Action execution.Action
	Qty    int64
	Reason string
}

// EntryReport tells the entering strategy what it actually got filled at, so
// exits can reason from the real cost basis.
type EntryReport struct {
	Action   execution.Action
	Qty      int64
	Price    float64
	DealTime time.Time
}

// Strategy is one entry/exit decision unit. InSignal is consulted while
// flat; after its entry fills, only that strategy's OutSignal is consulted
// until the position closes.
type Strategy interface {
	Name() string
	// InSignal returns an entry suggestion, or nil to stay flat.
	InSignal() *Suggestion
	// OutSignal returns an exit suggestion for the held position, or nil.
	OutSignal() *Suggestion
	// ReportEntry delivers the fill that opened the position.
	ReportEntry(er EntryReport)
}

// activeWindow is a trading time-of-day range; End before Start spans
// midnight (night session).
type activeWindow struct {
	Start, End time.Duration // offsets from midnight
}

func (w activeWindow) contains(t time.Time) bool {
	day := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
	if w.Start <= w.End {
		return day >= w.Start && day <= w.End
	}
	return day >= w.Start || day <= w.End
}

func inAnyWindow(t time.Time, windows []activeWindow) bool {
	for _, w := range windows {
		if w.contains(t) {
			return true
		}
	}
	return false
}
