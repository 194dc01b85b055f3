// Package model defines the market event records (ticks and bid-asks) shared
// across the buffer, indicator, and store layers.
//
// Records are immutable once appended. Ordering is total by timestamp; ties
// are broken by arrival order, which the per-symbol Serial preserves across
// process restarts.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldSep separates top-level fields in the durable wire form.
const FieldSep = ":"

// TickType classifies who initiated a trade.
type TickType int

const (
	TickTypeNone TickType = 0
	TickTypeSell TickType = 1 // seller-initiated (hit the bid)
	TickTypeBuy  TickType = 2 // buyer-initiated (lifted the ask)
)

// Tick is a single trade event from the futures quote stream.
type Tick struct {
	Symbol string
	TS     time.Time // timezone-aware exchange timestamp

	Open            float64
	UnderlyingPrice float64
	BidSideTotalVol int64
	AskSideTotalVol int64
	AvgPrice        float64
	Close           float64
	High            float64
	Low             float64
	Amount          float64
	TotalAmount     float64
	Volume          int64
	TotalVolume     int64
	TickType        TickType
	ChgType         int
	PriceChg        float64
	PctChg          float64
	Simtrade        bool

	// Serial is the per-symbol monotonically increasing sequence number
	// assigned when the tick is persisted. Guarantees member uniqueness in
	// the store even for identical timestamps.
	Serial int64
}

// Time implements market.Event.
func (t Tick) Time() time.Time { return t.TS }

// Serialize renders the tick in the colon-delimited durable form.
// Field order is part of the wire contract; see ParseTick.
func (t Tick) Serialize(serial int64) string {
	var b strings.Builder
	b.Grow(160)
	b.WriteString(t.Symbol)
	b.WriteString(FieldSep)
	writeEpoch(&b, t.TS)
	for _, f := range []float64{t.Open, t.UnderlyingPrice} {
		b.WriteString(FieldSep)
		writeFloat(&b, f)
	}
	b.WriteString(FieldSep)
	b.WriteString(strconv.FormatInt(t.BidSideTotalVol, 10))
	b.WriteString(FieldSep)
	b.WriteString(strconv.FormatInt(t.AskSideTotalVol, 10))
	for _, f := range []float64{t.AvgPrice, t.Close, t.High, t.Low, t.Amount, t.TotalAmount} {
		b.WriteString(FieldSep)
		writeFloat(&b, f)
	}
	b.WriteString(FieldSep)
	b.WriteString(strconv.FormatInt(t.Volume, 10))
	b.WriteString(FieldSep)
	b.WriteString(strconv.FormatInt(t.TotalVolume, 10))
	b.WriteString(FieldSep)
	b.WriteString(strconv.Itoa(int(t.TickType)))
	b.WriteString(FieldSep)
	b.WriteString(strconv.Itoa(t.ChgType))
	for _, f := range []float64{t.PriceChg, t.PctChg} {
		b.WriteString(FieldSep)
		writeFloat(&b, f)
	}
	b.WriteString(FieldSep)
	if t.Simtrade {
		b.WriteString("1")
	} else {
		b.WriteString("0")
	}
	b.WriteString(FieldSep)
	b.WriteString(strconv.FormatInt(serial, 10))
	return b.String()
}

// ParseTick decodes the colon-delimited durable form produced by Serialize.
func ParseTick(data string) (Tick, error) {
	parts := strings.Split(data, FieldSep)
	if len(parts) != 20 {
		return Tick{}, fmt.Errorf("parse tick: want 20 fields, got %d", len(parts))
	}
	var (
		t   Tick
		err error
	)
	t.Symbol = parts[0]
	if t.TS, err = parseEpoch(parts[1]); err != nil {
		return Tick{}, fmt.Errorf("parse tick ts: %w", err)
	}
	floats := []*float64{
		&t.Open, &t.UnderlyingPrice, nil, nil, &t.AvgPrice, &t.Close,
		&t.High, &t.Low, &t.Amount, &t.TotalAmount,
	}
	for i, dst := range floats {
		if dst == nil {
			continue
		}
		if *dst, err = strconv.ParseFloat(parts[2+i], 64); err != nil {
			return Tick{}, fmt.Errorf("parse tick field %d: %w", 2+i, err)
		}
	}
	ints := map[int]*int64{
		4: &t.BidSideTotalVol, 5: &t.AskSideTotalVol,
		12: &t.Volume, 13: &t.TotalVolume, 19: &t.Serial,
	}
	for idx, dst := range ints {
		if *dst, err = strconv.ParseInt(parts[idx], 10, 64); err != nil {
			return Tick{}, fmt.Errorf("parse tick field %d: %w", idx, err)
		}
	}
	tt, err := strconv.Atoi(parts[14])
	if err != nil {
		return Tick{}, fmt.Errorf("parse tick type: %w", err)
	}
	t.TickType = TickType(tt)
	if t.ChgType, err = strconv.Atoi(parts[15]); err != nil {
		return Tick{}, fmt.Errorf("parse chg type: %w", err)
	}
	if t.PriceChg, err = strconv.ParseFloat(parts[16], 64); err != nil {
		return Tick{}, fmt.Errorf("parse price chg: %w", err)
	}
	if t.PctChg, err = strconv.ParseFloat(parts[17], 64); err != nil {
		return Tick{}, fmt.Errorf("parse pct chg: %w", err)
	}
	t.Simtrade = parts[18] == "1"
	return t, nil
}

func writeFloat(b *strings.Builder, f float64) {
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// writeEpoch renders a timestamp as fractional UTC epoch seconds.
func writeEpoch(b *strings.Builder, ts time.Time) {
	us := ts.UnixMicro()
	if us%1_000_000 == 0 {
		b.WriteString(strconv.FormatInt(us/1_000_000, 10))
		return
	}
	b.WriteString(strconv.FormatFloat(float64(us)/1e6, 'f', -1, 64))
}

func parseEpoch(s string) (time.Time, error) {
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(int64(sec * 1e6)).In(Taipei), nil
}

// Taipei is the exchange timezone. Fixed offset so session-date math does not
// depend on the host zoneinfo database.
var Taipei = time.FixedZone("Asia/Taipei", 8*3600)
