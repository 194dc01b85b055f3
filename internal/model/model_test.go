package model

import (
	"testing"
	"time"
)

func sampleTick() Tick {
	return Tick{
		Symbol:          "TMFR1",
		TS:              time.Date(2025, 3, 14, 9, 30, 15, 250000000, Taipei),
		Open:            22150,
		UnderlyingPrice: 22148.5,
		BidSideTotalVol: 1200,
		AskSideTotalVol: 1340,
		AvgPrice:        22161.25,
		Close:           22163,
		High:            22180,
		Low:             22120,
		Amount:          110815,
		TotalAmount:     99120345,
		Volume:          5,
		TotalVolume:     44120,
		TickType:        TickTypeBuy,
		ChgType:         2,
		PriceChg:        13,
		PctChg:          0.0587,
		Simtrade:        false,
	}
}

func TestTickSerializeRoundTrip(t *testing.T) {
	in := sampleTick()
	out, err := ParseTick(in.Serialize(42))
	if err != nil {
		t.Fatalf("ParseTick: %v", err)
	}

	if out.Serial != 42 {
		t.Errorf("serial: got %d, want 42", out.Serial)
	}
	if !out.TS.Equal(in.TS) {
		t.Errorf("ts: got %v, want %v", out.TS, in.TS)
	}
	out.Serial = 0
	out.TS = in.TS
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestTickSerializeSimtradeFlag(t *testing.T) {
	in := sampleTick()
	in.Simtrade = true
	out, err := ParseTick(in.Serialize(1))
	if err != nil {
		t.Fatalf("ParseTick: %v", err)
	}
	if !out.Simtrade {
		t.Error("simtrade flag lost in round trip")
	}
}

func TestParseTickRejectsShortRecord(t *testing.T) {
	if _, err := ParseTick("TMFR1:123:456"); err == nil {
		t.Error("want error for truncated record")
	}
}

func TestBidAskSerializeRoundTrip(t *testing.T) {
	in := BidAsk{
		Symbol:          "TMFR1",
		TS:              time.Date(2025, 3, 14, 9, 30, 15, 500000000, Taipei),
		BidPrice:        110810,
		BidVolume:       87,
		AskPrice:        110825,
		AskVolume:       64,
		BidTotalVol:     1200,
		AskTotalVol:     1340,
		UnderlyingPrice: 22148.5,
		Simtrade:        false,
	}
	out, err := ParseBidAsk(in.Serialize(7))
	if err != nil {
		t.Fatalf("ParseBidAsk: %v", err)
	}
	if out.Serial != 7 {
		t.Errorf("serial: got %d, want 7", out.Serial)
	}
	if !out.TS.Equal(in.TS) {
		t.Errorf("ts: got %v, want %v", out.TS, in.TS)
	}
	out.Serial = 0
	out.TS = in.TS
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestEpochSubsecondPrecision(t *testing.T) {
	// 250ms fraction must survive the epoch round trip exactly.
	ts := time.Date(2025, 3, 14, 21, 0, 0, 250000000, Taipei)
	in := sampleTick()
	in.TS = ts
	out, err := ParseTick(in.Serialize(1))
	if err != nil {
		t.Fatalf("ParseTick: %v", err)
	}
	if out.TS.UnixMicro() != ts.UnixMicro() {
		t.Errorf("epoch micro: got %d, want %d", out.TS.UnixMicro(), ts.UnixMicro())
	}
}
