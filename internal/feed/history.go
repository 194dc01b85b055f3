package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"tmf-trader/internal/markethours"
	"tmf-trader/internal/model"
)

type ticksResponse struct {
	Ticks   []frame `json:"ticks"`
	Message string  `json:"message"`
}

// Ticks fetches historical ticks for [start, end] from the gateway REST API.
// Results are sorted by timestamp.
func (c *Client) Ticks(ctx context.Context, symbol string, start, end time.Time) ([]model.Tick, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", strconv.FormatFloat(float64(start.UnixMicro())/1e6, 'f', 6, 64))
	q.Set("to", strconv.FormatFloat(float64(end.UnixMicro())/1e6, 'f', 6, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/ticks?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build ticks request: %w", err)
	}
	sess, err := c.EnsureSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: ensure session: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: ticks request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: read ticks response: %w", err)
	}

	var tr ticksResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("feed: decode ticks response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: ticks rejected: status=%d message=%q", resp.StatusCode, tr.Message)
	}

	out := make([]model.Tick, 0, len(tr.Ticks))
	for _, f := range tr.Ticks {
		t, err := f.tick()
		if err != nil {
			log.Printf("[feed] skip history tick: %v", err)
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

// TickFetcher fetches the missed part of the session over HTTP. *Client
// satisfies it.
type TickFetcher interface {
	Ticks(ctx context.Context, symbol string, start, end time.Time) ([]model.Tick, error)
}

// TickReader reads raw ticks already persisted for the session. The redis
// store satisfies it.
type TickReader interface {
	ReadTicks(ctx context.Context, symbol, sessionTag string, from, to time.Time) ([]model.Tick, error)
}

// Backfill assembles the in-day history that precedes the first live tick:
// ticks a previous process run already persisted, extended by a gateway
// fetch for the gap up to now. The result can be spliced in front of the
// live buffer so the long windows are warm from the start.
type Backfill struct {
	fetcher TickFetcher
	reader  TickReader // may be nil when no durable store is attached
	symbol  string
	window  time.Duration
}

// NewBackfill creates a backfill for one symbol with the widest indicator
// window. reader may be nil.
func NewBackfill(fetcher TickFetcher, reader TickReader, symbol string, window time.Duration) *Backfill {
	return &Backfill{fetcher: fetcher, reader: reader, symbol: symbol, window: window}
}

// Run returns the history ticks for [first.TS - window, first.TS), oldest
// first, deduplicated at both seams: the fetch starts where the persisted
// ticks end, and anything at or after the first live tick is dropped.
func (b *Backfill) Run(ctx context.Context, first model.Tick) ([]model.Tick, error) {
	start := first.TS.Add(-b.window)

	var persisted []model.Tick
	if b.reader != nil {
		var err error
		persisted, err = b.reader.ReadTicks(ctx, b.symbol, markethours.SessionTag(first.TS), start, first.TS)
		if err != nil {
			return nil, fmt.Errorf("feed: read persisted ticks: %w", err)
		}
	}

	fetchStart := start
	if n := len(persisted); n > 0 {
		fetchStart = persisted[n-1].TS
	}

	fetched, err := b.fetcher.Ticks(ctx, b.symbol, fetchStart, first.TS)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch in-day history: %w", err)
	}

	out := persisted
	seam := time.Time{}
	if n := len(persisted); n > 0 {
		seam = persisted[n-1].TS
	}
	for _, t := range fetched {
		if !seam.IsZero() && !t.TS.After(seam) {
			continue
		}
		if !t.TS.Before(first.TS) {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
