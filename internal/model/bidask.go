package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BidAsk is a top-of-book depth event. BidPrice/BidVolume (and the ask side)
// are the sums over the five quoted levels, which is what the imbalance
// indicators consume; per-level values are not retained.
type BidAsk struct {
	Symbol string
	TS     time.Time

	BidPrice  float64
	BidVolume int64
	AskPrice  float64
	AskVolume int64

	BidTotalVol int64
	AskTotalVol int64

	UnderlyingPrice float64
	Simtrade        bool

	Serial int64
}

// Time implements market.Event.
func (b BidAsk) Time() time.Time { return b.TS }

// Serialize renders the bid-ask in the colon-delimited durable form.
func (b BidAsk) Serialize(serial int64) string {
	var sb strings.Builder
	sb.Grow(96)
	sb.WriteString(b.Symbol)
	sb.WriteString(FieldSep)
	writeEpoch(&sb, b.TS)
	sb.WriteString(FieldSep)
	writeFloat(&sb, b.BidPrice)
	sb.WriteString(FieldSep)
	sb.WriteString(strconv.FormatInt(b.BidVolume, 10))
	sb.WriteString(FieldSep)
	writeFloat(&sb, b.AskPrice)
	sb.WriteString(FieldSep)
	sb.WriteString(strconv.FormatInt(b.AskVolume, 10))
	sb.WriteString(FieldSep)
	sb.WriteString(strconv.FormatInt(b.BidTotalVol, 10))
	sb.WriteString(FieldSep)
	sb.WriteString(strconv.FormatInt(b.AskTotalVol, 10))
	sb.WriteString(FieldSep)
	writeFloat(&sb, b.UnderlyingPrice)
	sb.WriteString(FieldSep)
	if b.Simtrade {
		sb.WriteString("1")
	} else {
		sb.WriteString("0")
	}
	sb.WriteString(FieldSep)
	sb.WriteString(strconv.FormatInt(serial, 10))
	return sb.String()
}

// ParseBidAsk decodes the form produced by Serialize.
func ParseBidAsk(data string) (BidAsk, error) {
	parts := strings.Split(data, FieldSep)
	if len(parts) != 11 {
		return BidAsk{}, fmt.Errorf("parse bidask: want 11 fields, got %d", len(parts))
	}
	var (
		b   BidAsk
		err error
	)
	b.Symbol = parts[0]
	if b.TS, err = parseEpoch(parts[1]); err != nil {
		return BidAsk{}, fmt.Errorf("parse bidask ts: %w", err)
	}
	if b.BidPrice, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return BidAsk{}, fmt.Errorf("parse bid price: %w", err)
	}
	if b.BidVolume, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
		return BidAsk{}, fmt.Errorf("parse bid volume: %w", err)
	}
	if b.AskPrice, err = strconv.ParseFloat(parts[4], 64); err != nil {
		return BidAsk{}, fmt.Errorf("parse ask price: %w", err)
	}
	if b.AskVolume, err = strconv.ParseInt(parts[5], 10, 64); err != nil {
		return BidAsk{}, fmt.Errorf("parse ask volume: %w", err)
	}
	if b.BidTotalVol, err = strconv.ParseInt(parts[6], 10, 64); err != nil {
		return BidAsk{}, fmt.Errorf("parse bid total vol: %w", err)
	}
	if b.AskTotalVol, err = strconv.ParseInt(parts[7], 10, 64); err != nil {
		return BidAsk{}, fmt.Errorf("parse ask total vol: %w", err)
	}
	if b.UnderlyingPrice, err = strconv.ParseFloat(parts[8], 64); err != nil {
		return BidAsk{}, fmt.Errorf("parse underlying: %w", err)
	}
	b.Simtrade = parts[9] == "1"
	if b.Serial, err = strconv.ParseInt(parts[10], 10, 64); err != nil {
		return BidAsk{}, fmt.Errorf("parse serial: %w", err)
	}
	return b, nil
}
