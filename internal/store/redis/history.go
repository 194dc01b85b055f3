package redis

import (
	"context"
	"log"
	"sync"

	"tmf-trader/internal/indicator"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultQueueLen = 1024
)

type flushJob struct {
	storageKey string
	serialKey  string
	states     []indicator.State
}

// HistoryWriter drains indicator flush batches onto sorted sets off the hot
// path: AppendStates hands the batch to a queue and returns immediately.
// A full queue drops the batch; unflushed history is recoverable from the
// event buffer, so dropping beats stalling the tick loop.
type HistoryWriter struct {
	store *Store

	jobs chan flushJob
	wg   sync.WaitGroup

	// OnDrop is called for every batch dropped on queue overflow.
	OnDrop func()
}

// NewHistoryWriter starts the drain worker.
func NewHistoryWriter(store *Store) *HistoryWriter {
	w := &HistoryWriter{
		store: store,
		jobs:  make(chan flushJob, defaultQueueLen),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// AppendStates implements indicator.FlushStore. Never blocks.
func (w *HistoryWriter) AppendStates(storageKey, serialKey string, states []indicator.State) {
	if len(states) == 0 {
		return
	}
	select {
	case w.jobs <- flushJob{storageKey: storageKey, serialKey: serialKey, states: states}:
	default:
		log.Printf("[redis-history] queue full, dropped %d states for %s", len(states), storageKey)
		if w.OnDrop != nil {
			w.OnDrop()
		}
	}
}

// Close drains remaining jobs and stops the worker.
func (w *HistoryWriter) Close() {
	close(w.jobs)
	w.wg.Wait()
}

func (w *HistoryWriter) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.write(job)
	}
}

func (w *HistoryWriter) write(job flushJob) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	serial, err := w.store.reserveSerials(ctx, job.serialKey, len(job.states))
	if err != nil {
		log.Printf("[redis-history] %v", err)
		return
	}
	members := make([]*goredis.Z, len(job.states))
	for i, st := range job.states {
		members[i] = &goredis.Z{
			Score:  float64(st.Time().UTC().UnixMicro()) / 1e6,
			Member: st.Serialize(serial + int64(i)),
		}
	}
	if err := w.store.zaddBatch(ctx, job.storageKey, members); err != nil {
		log.Printf("[redis-history] %v", err)
	}
}
