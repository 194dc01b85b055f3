package indicator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// State is one computed indicator value together with the sufficient
// statistics needed to update it incrementally on the next tick.
//
// Wire format: a common colon-delimited header
//
//	serial:kind:count:value:epoch
//
// optionally followed by kind-specific fields, each prefixed with "|".
type State interface {
	Time() time.Time
	SampleCount() float64
	Value() float64
	Serialize(serial int64) string
}

func writeFloat(b *strings.Builder, f float64) {
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func serializeHeader(b *strings.Builder, serial int64, kind Kind, count, value float64, ts time.Time) {
	b.WriteString(strconv.FormatInt(serial, 10))
	b.WriteByte(':')
	b.WriteString(string(kind))
	b.WriteByte(':')
	writeFloat(b, count)
	b.WriteByte(':')
	writeFloat(b, value)
	b.WriteByte(':')
	writeFloat(b, float64(ts.UnixMicro())/1e6)
}

type header struct {
	Serial int64
	Kind   Kind
	Count  float64
	Value  float64
	TS     time.Time
}

func parseHeader(part string) (header, error) {
	var h header
	fields := strings.Split(part, ":")
	if len(fields) != 5 {
		return h, fmt.Errorf("indicator: header has %d fields, want 5", len(fields))
	}
	var err error
	if h.Serial, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
		return h, fmt.Errorf("indicator: bad serial %q: %w", fields[0], err)
	}
	if h.Kind, err = ParseKind(fields[1]); err != nil {
		return h, err
	}
	if h.Count, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return h, fmt.Errorf("indicator: bad count %q: %w", fields[2], err)
	}
	if h.Value, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return h, fmt.Errorf("indicator: bad value %q: %w", fields[3], err)
	}
	epoch, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return h, fmt.Errorf("indicator: bad epoch %q: %w", fields[4], err)
	}
	h.TS = time.UnixMicro(int64(math.Round(epoch * 1e6))).UTC()
	return h, nil
}

func parseTail(data string, want int) (string, []float64, error) {
	parts := strings.Split(data, "|")
	if len(parts) != want+1 {
		return "", nil, fmt.Errorf("indicator: record has %d tail fields, want %d", len(parts)-1, want)
	}
	tail := make([]float64, want)
	for i, p := range parts[1:] {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return "", nil, fmt.Errorf("indicator: bad tail field %q: %w", p, err)
		}
		tail[i] = f
	}
	return parts[0], tail, nil
}

// ScalarState carries kinds whose value is self-contained: MA, VMA and
// SD-stop-loss. Count is the volume (MA), tick count (VMA) or zero.
type ScalarState struct {
	Kind  Kind
	TS    time.Time
	Count float64
	Val   float64
}

func (s ScalarState) Time() time.Time      { return s.TS }
func (s ScalarState) SampleCount() float64 { return s.Count }
func (s ScalarState) Value() float64       { return s.Val }

func (s ScalarState) Serialize(serial int64) string {
	var b strings.Builder
	serializeHeader(&b, serial, s.Kind, s.Count, s.Val, s.TS)
	return b.String()
}

// ParseScalarState restores a headerless-tail state produced by Serialize.
func ParseScalarState(data string) (ScalarState, error) {
	h, err := parseHeader(data)
	if err != nil {
		return ScalarState{}, err
	}
	return ScalarState{Kind: h.Kind, TS: h.TS, Count: h.Count, Val: h.Value}, nil
}

// SDState holds the running sum and sum of squares of volume-weighted
// prices. Value derives the population standard deviation from them.
type SDState struct {
	TS        time.Time
	Count     float64 // total volume in window
	Sum       float64
	SquareSum float64
}

func (s SDState) Time() time.Time      { return s.TS }
func (s SDState) SampleCount() float64 { return s.Count }

func (s SDState) Value() float64 {
	if s.Count == 0 {
		return 0
	}
	mean := s.Sum / s.Count
	v := s.SquareSum/s.Count - mean*mean
	if v < 0 {
		v = 0 // guard rounding noise
	}
	return math.Sqrt(v)
}

func (s SDState) Serialize(serial int64) string {
	var b strings.Builder
	serializeHeader(&b, serial, KindSD, s.Count, s.Value(), s.TS)
	b.WriteByte('|')
	writeFloat(&b, s.Sum)
	b.WriteByte('|')
	writeFloat(&b, s.SquareSum)
	return b.String()
}

func ParseSDState(data string) (SDState, error) {
	head, tail, err := parseTail(data, 2)
	if err != nil {
		return SDState{}, err
	}
	h, err := parseHeader(head)
	if err != nil {
		return SDState{}, err
	}
	return SDState{TS: h.TS, Count: h.Count, Sum: tail[0], SquareSum: tail[1]}, nil
}

// CovarianceState holds the volume-weighted accumulators for the covariance
// of close price and time over the window. Count is the total volume.
type CovarianceState struct {
	TS    time.Time
	Count float64
	SP    float64 // sum of close*volume
	ST    float64 // sum of seconds*volume, seconds relative to the manager origin
	SPT   float64 // sum of close*seconds*volume
}

func (s CovarianceState) Time() time.Time      { return s.TS }
func (s CovarianceState) SampleCount() float64 { return s.Count }

func (s CovarianceState) Value() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.SPT/s.Count - s.SP*s.ST/(s.Count*s.Count)
}

func (s CovarianceState) Serialize(serial int64) string {
	var b strings.Builder
	serializeHeader(&b, serial, KindCovariance, s.Count, s.Value(), s.TS)
	b.WriteByte('|')
	writeFloat(&b, s.SP)
	b.WriteByte('|')
	writeFloat(&b, s.ST)
	b.WriteByte('|')
	writeFloat(&b, s.SPT)
	return b.String()
}

func ParseCovarianceState(data string) (CovarianceState, error) {
	head, tail, err := parseTail(data, 3)
	if err != nil {
		return CovarianceState{}, err
	}
	h, err := parseHeader(head)
	if err != nil {
		return CovarianceState{}, err
	}
	return CovarianceState{TS: h.TS, Count: h.Count, SP: tail[0], ST: tail[1], SPT: tail[2]}, nil
}

// SellBuyState accumulates sell-initiated and buy-initiated volume in the
// window. Value is the normalized imbalance (sell-buy)/(sell+buy).
type SellBuyState struct {
	TS    time.Time
	Count float64 // number of ticks
	Sell  float64
	Buy   float64
}

func (s SellBuyState) Time() time.Time      { return s.TS }
func (s SellBuyState) SampleCount() float64 { return s.Count }

func (s SellBuyState) Value() float64 {
	total := s.Sell + s.Buy
	if total == 0 {
		return 0
	}
	return (s.Sell - s.Buy) / total
}

func (s SellBuyState) Serialize(serial int64) string {
	var b strings.Builder
	serializeHeader(&b, serial, KindSellBuyRatio, s.Count, s.Value(), s.TS)
	b.WriteByte('|')
	writeFloat(&b, s.Sell)
	b.WriteByte('|')
	writeFloat(&b, s.Buy)
	return b.String()
}

func ParseSellBuyState(data string) (SellBuyState, error) {
	head, tail, err := parseTail(data, 2)
	if err != nil {
		return SellBuyState{}, err
	}
	h, err := parseHeader(head)
	if err != nil {
		return SellBuyState{}, err
	}
	return SellBuyState{TS: h.TS, Count: h.Count, Sell: tail[0], Buy: tail[1]}, nil
}

// BidAskState accumulates aggregate bid and ask volume over the bid/ask
// event window. Value is bid/(bid+ask).
type BidAskState struct {
	TS    time.Time
	Count float64 // number of bid/ask events
	Bid   float64
	Ask   float64
}

func (s BidAskState) Time() time.Time      { return s.TS }
func (s BidAskState) SampleCount() float64 { return s.Count }

func (s BidAskState) Value() float64 {
	total := s.Bid + s.Ask
	if total == 0 {
		return 0
	}
	return s.Bid / total
}

func (s BidAskState) Serialize(serial int64) string {
	var b strings.Builder
	serializeHeader(&b, serial, KindBidAskRatio, s.Count, s.Value(), s.TS)
	b.WriteByte('|')
	writeFloat(&b, s.Bid)
	b.WriteByte('|')
	writeFloat(&b, s.Ask)
	return b.String()
}

func ParseBidAskState(data string) (BidAskState, error) {
	head, tail, err := parseTail(data, 2)
	if err != nil {
		return BidAskState{}, err
	}
	h, err := parseHeader(head)
	if err != nil {
		return BidAskState{}, err
	}
	return BidAskState{TS: h.TS, Count: h.Count, Bid: tail[0], Ask: tail[1]}, nil
}

// DonchianState is the rolling channel plus the derived breakout and
// accumulation signals. Value reports the channel width.
type DonchianState struct {
	TS time.Time
	H  float64
	L  float64

	HBreak bool // high made a new channel high this tick
	LBreak bool // low made a new channel low this tick

	HHAccum   int // consecutive higher-high streak
	LLAccum   int // consecutive lower-low streak
	HLAccum   int // lows rising while highs idle
	LHAccum   int // highs falling while lows idle
	IdleAccum int // neither edge moved, counted at most once per second

	PivotPrice  float64
	PivotSerial int64
}

func (s DonchianState) Time() time.Time      { return s.TS }
func (s DonchianState) SampleCount() float64 { return 0 }
func (s DonchianState) Value() float64       { return s.H - s.L }

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (s DonchianState) Serialize(serial int64) string {
	var b strings.Builder
	serializeHeader(&b, serial, KindDonchian, 0, s.Value(), s.TS)
	for _, f := range []float64{s.H, s.L} {
		b.WriteByte('|')
		writeFloat(&b, f)
	}
	b.WriteByte('|')
	b.WriteString(boolField(s.HBreak))
	b.WriteByte('|')
	b.WriteString(boolField(s.LBreak))
	for _, n := range []int{s.HHAccum, s.LLAccum, s.HLAccum, s.LHAccum, s.IdleAccum} {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(n))
	}
	b.WriteByte('|')
	writeFloat(&b, s.PivotPrice)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(s.PivotSerial, 10))
	return b.String()
}

func ParseDonchianState(data string) (DonchianState, error) {
	head, tail, err := parseTail(data, 11)
	if err != nil {
		return DonchianState{}, err
	}
	h, err := parseHeader(head)
	if err != nil {
		return DonchianState{}, err
	}
	return DonchianState{
		TS: h.TS, H: tail[0], L: tail[1],
		HBreak: tail[2] != 0, LBreak: tail[3] != 0,
		HHAccum: int(tail[4]), LLAccum: int(tail[5]),
		HLAccum: int(tail[6]), LHAccum: int(tail[7]), IdleAccum: int(tail[8]),
		PivotPrice: tail[9], PivotSerial: int64(tail[10]),
	}, nil
}

// ChangeRateState carries a least-squares slope of another indicator's
// recent history, fitted over (elapsed seconds, value) pairs.
type ChangeRateState struct {
	TS    time.Time
	Count float64
	Slope float64
}

func (s ChangeRateState) Time() time.Time      { return s.TS }
func (s ChangeRateState) SampleCount() float64 { return s.Count }
func (s ChangeRateState) Value() float64       { return s.Slope }

func (s ChangeRateState) Serialize(serial int64) string {
	var b strings.Builder
	serializeHeader(&b, serial, KindChangeRate, s.Count, s.Slope, s.TS)
	return b.String()
}

func ParseChangeRateState(data string) (ChangeRateState, error) {
	h, err := parseHeader(data)
	if err != nil {
		return ChangeRateState{}, err
	}
	return ChangeRateState{TS: h.TS, Count: h.Count, Slope: h.Value}, nil
}
