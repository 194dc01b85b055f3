package feed

import (
	"context"
	"log"
	"time"

	"tmf-trader/internal/market"
	"tmf-trader/internal/markethours"
	"tmf-trader/internal/metrics"
	"tmf-trader/internal/model"
	"tmf-trader/internal/ringbuf"
)

const (
	delayLogInterval = 10 * time.Second
	defaultRingSize  = 4096
	bidAskQueueSize  = 1024
)

// Recorder persists raw events as they arrive. The redis store satisfies it.
// Raw saves are synchronous: the durable stream is the source of truth for
// recovery, so a tick is recorded before the strategies can act on it.
type Recorder interface {
	SaveTicks(ctx context.Context, symbol, sessionTag string, ticks []model.Tick) error
	SaveBidAsks(ctx context.Context, symbol, sessionTag string, bas []model.BidAsk) error
}

// Dispatcher moves events from the stream reader into the market buffer.
// The reader and the dispatcher form a single-producer single-consumer pair
// around the tick ring, so a slow update cycle never stalls the socket.
type Dispatcher struct {
	buf  *market.Buffer
	rec  Recorder
	mets *metrics.Metrics

	ring    *ringbuf.Ring
	wake    chan struct{}
	bidAsks chan model.BidAsk

	backfill *Backfill
	started  bool // first live tick seen

	lastDelayLog time.Time
	lastOverflow uint64
}

// NewDispatcher wires a dispatcher to the buffer. rec, mets and backfill may
// be nil (replay and tests run without them).
func NewDispatcher(buf *market.Buffer, rec Recorder, mets *metrics.Metrics, backfill *Backfill) *Dispatcher {
	return &Dispatcher{
		buf:      buf,
		rec:      rec,
		mets:     mets,
		ring:     ringbuf.New(defaultRingSize),
		wake:     make(chan struct{}, 1),
		bidAsks:  make(chan model.BidAsk, bidAskQueueSize),
		backfill: backfill,
	}
}

// OfferTick implements Sink. Never blocks; on ring overflow the tick is
// dropped and counted.
func (d *Dispatcher) OfferTick(t model.Tick) {
	if !d.ring.Push(t) {
		if d.mets != nil {
			d.mets.DroppedTicks.Inc()
		}
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// OfferBidAsk implements Sink.
func (d *Dispatcher) OfferBidAsk(ba model.BidAsk) {
	select {
	case d.bidAsks <- ba:
	default:
		log.Printf("[feed] bidask queue full, dropping event")
	}
}

// Run consumes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ba := <-d.bidAsks:
			d.handleBidAsk(ctx, ba)
		case <-d.wake:
			for {
				t, ok := d.ring.Pop()
				if !ok {
					break
				}
				d.handleTick(ctx, t)
			}
		}
	}
}

func (d *Dispatcher) handleTick(ctx context.Context, t model.Tick) {
	if t.Simtrade {
		return
	}
	if !d.started {
		d.started = true
		d.runBackfill(ctx, t)
	}

	if d.rec != nil {
		tag := markethours.SessionTag(t.TS)
		if err := d.rec.SaveTicks(ctx, t.Symbol, tag, []model.Tick{t}); err != nil {
			log.Printf("[feed] save tick: %v", err)
		}
	}

	if err := d.buf.AppendTick(t); err != nil {
		log.Printf("[feed] append tick: %v", err)
		return
	}
	d.observeTick(t)
}

func (d *Dispatcher) handleBidAsk(ctx context.Context, ba model.BidAsk) {
	if ba.Simtrade {
		return
	}
	if d.rec != nil {
		tag := markethours.SessionTag(ba.TS)
		if err := d.rec.SaveBidAsks(ctx, ba.Symbol, tag, []model.BidAsk{ba}); err != nil {
			log.Printf("[feed] save bidask: %v", err)
		}
	}
	if err := d.buf.AppendBidAsk(ba); err != nil {
		log.Printf("[feed] append bidask: %v", err)
		return
	}
	if d.mets != nil {
		d.mets.BidAsksTotal.Inc()
		d.mets.BufferEvents.WithLabelValues("bidask").Set(float64(d.buf.BidAskLen()))
	}
}

// observeTick samples feed latency. The delay is logged at most once per ten
// seconds; the histogram sees every tick.
func (d *Dispatcher) observeTick(t model.Tick) {
	delay := time.Since(t.TS)
	if d.mets != nil {
		d.mets.TicksTotal.Inc()
		d.mets.TickDelay.Observe(delay.Seconds())
		d.mets.BufferEvents.WithLabelValues("tick").Set(float64(d.buf.TickLen()))
	}
	now := time.Now()
	if now.Sub(d.lastDelayLog) >= delayLogInterval {
		d.lastDelayLog = now
		dropped := d.ring.Overflow() - d.lastOverflow
		d.lastOverflow = d.ring.Overflow()
		log.Printf("[feed] tick delay %.3fs ring=%d dropped=%d", delay.Seconds(), d.ring.Len(), dropped)
	}
}

// runBackfill splices pre-connect history in front of the first live tick.
// Backfill failures are logged and tolerated: indicators then warm up from
// live data alone.
func (d *Dispatcher) runBackfill(ctx context.Context, first model.Tick) {
	if d.backfill == nil {
		return
	}
	history, err := d.backfill.Run(ctx, first)
	if err != nil {
		log.Printf("[feed] backfill: %v", err)
		return
	}
	if len(history) == 0 {
		return
	}
	d.buf.Splice(history)
	log.Printf("[feed] spliced %d history ticks before %s", len(history), first.TS.Format(time.RFC3339))
}
