package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrUnknownOrder reports a wait on an order ID this placer never issued.
var ErrUnknownOrder = errors.New("execution: unknown order id")

// PaperPlacer simulates execution against the live price feed: orders fill
// immediately at the current price plus a fixed slippage in points. Used for
// paper sessions and the replay tool.
type PaperPlacer struct {
	price    func() float64 // current market price source
	slippage float64        // points added against the order side
	journal  *Journal       // nil disables persistence

	mu     sync.Mutex
	seq    int64
	fills  map[string]Fill
	done   map[string]chan struct{}
	long   map[string]*Position
	short  map[string]*Position
	fillCh chan Fill
}

// NewPaperPlacer builds a placer filling at price() +/- slippage points.
func NewPaperPlacer(price func() float64, slippage float64, journal *Journal) *PaperPlacer {
	return &PaperPlacer{
		price:    price,
		slippage: slippage,
		journal:  journal,
		fills:    make(map[string]Fill),
		done:     make(map[string]chan struct{}),
		long:     make(map[string]*Position),
		short:    make(map[string]*Position),
		fillCh:   make(chan Fill, 256),
	}
}

// Fills returns the stream of confirmed fills, for journaling consumers.
func (p *PaperPlacer) Fills() <-chan Fill { return p.fillCh }

// Place implements Placer. The simulated fill completes before Place
// returns; WaitForFill then observes it immediately.
func (p *PaperPlacer) Place(ctx context.Context, o Order) (string, error) {
	if o.Qty <= 0 {
		return "", fmt.Errorf("execution: bad qty %d", o.Qty)
	}

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("PAPER-%d", p.seq)

	fillPrice := o.Price
	if fillPrice == 0 {
		fillPrice = p.price()
	}
	if o.Action == ActionBuy {
		fillPrice += p.slippage
	} else {
		fillPrice -= p.slippage
	}

	fill := Fill{
		OrderID:  id,
		Symbol:   o.Symbol,
		Action:   o.Action,
		Qty:      o.Qty,
		Price:    fillPrice,
		Slippage: p.slippage,
		Strategy: o.Strategy,
		Reason:   o.Reason,
		FilledAt: time.Now(),
	}
	p.fills[id] = fill
	ch := make(chan struct{})
	close(ch)
	p.done[id] = ch
	p.applyFillLocked(fill)
	p.mu.Unlock()

	log.Printf("[paper] %s %d %s @ %.1f (%s)", o.Action, o.Qty, o.Symbol, fillPrice, o.Reason)
	if p.journal != nil {
		if err := p.journal.RecordFill(fill); err != nil {
			log.Printf("[paper] journal: %v", err)
		}
	}
	select {
	case p.fillCh <- fill:
	default:
	}
	return id, nil
}

// WaitForFill implements Placer.
func (p *PaperPlacer) WaitForFill(ctx context.Context, orderID string) (Fill, error) {
	p.mu.Lock()
	ch, ok := p.done[orderID]
	p.mu.Unlock()
	if !ok {
		return Fill{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	select {
	case <-ch:
	case <-ctx.Done():
		return Fill{}, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[orderID], nil
}

// applyFillLocked nets the fill against the opposite side first, opening or
// extending the same side with any remainder.
func (p *PaperPlacer) applyFillLocked(f Fill) {
	same, opp := p.long, p.short
	sameSide := ActionBuy
	if f.Action == ActionSell {
		same, opp = p.short, p.long
		sameSide = ActionSell
	}

	qty := f.Qty
	if pos, ok := opp[f.Symbol]; ok {
		reduce := qty
		if reduce > pos.Qty {
			reduce = pos.Qty
		}
		pos.Qty -= reduce
		pos.UpdatedAt = f.FilledAt
		qty -= reduce
		if pos.Qty == 0 {
			delete(opp, f.Symbol)
		}
	}
	if qty == 0 {
		return
	}

	pos, ok := same[f.Symbol]
	if !ok {
		same[f.Symbol] = &Position{
			Symbol: f.Symbol, Action: sameSide,
			Qty: qty, AvgPrice: f.Price, UpdatedAt: f.FilledAt,
		}
		return
	}
	total := pos.Qty + qty
	pos.AvgPrice = (pos.AvgPrice*float64(pos.Qty) + f.Price*float64(qty)) / float64(total)
	pos.Qty = total
	pos.UpdatedAt = f.FilledAt
}

// Positions implements Placer.
func (p *PaperPlacer) Positions() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.long)+len(p.short))
	for _, pos := range p.long {
		out = append(out, *pos)
	}
	for _, pos := range p.short {
		out = append(out, *pos)
	}
	return out
}

// CloseAll implements Placer.
func (p *PaperPlacer) CloseAll(ctx context.Context, reason string) error {
	for _, pos := range p.Positions() {
		o := Order{
			Symbol: pos.Symbol,
			Action: pos.Action.Opposite(),
			Qty:    pos.Qty,
			Reason: reason,
		}
		id, err := p.Place(ctx, o)
		if err != nil {
			return err
		}
		if _, err := p.WaitForFill(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
