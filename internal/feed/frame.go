package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"tmf-trader/internal/model"
)

// Frame event discriminators from the quote gateway.
const (
	eventTick   = "tick"
	eventBidAsk = "bidask"
	eventPong   = "pong"
	eventError  = "error"
)

// frame is one websocket message from the quote stream. Timestamps arrive as
// fractional UTC epoch seconds, the same representation the durable records
// use.
type frame struct {
	Event  string  `json:"event"`
	Symbol string  `json:"symbol"`
	TS     float64 `json:"ts"`

	// tick fields
	Open            float64 `json:"open"`
	UnderlyingPrice float64 `json:"underlying_price"`
	BidSideTotalVol int64   `json:"bid_side_total_vol"`
	AskSideTotalVol int64   `json:"ask_side_total_vol"`
	AvgPrice        float64 `json:"avg_price"`
	Close           float64 `json:"close"`
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	Amount          float64 `json:"amount"`
	TotalAmount     float64 `json:"total_amount"`
	Volume          int64   `json:"volume"`
	TotalVolume     int64   `json:"total_volume"`
	TickType        int     `json:"tick_type"`
	ChgType         int     `json:"chg_type"`
	PriceChg        float64 `json:"price_chg"`
	PctChg          float64 `json:"pct_chg"`

	// bid-ask fields
	BidPrice    float64 `json:"bid_price"`
	BidVolume   int64   `json:"bid_volume"`
	AskPrice    float64 `json:"ask_price"`
	AskVolume   int64   `json:"ask_volume"`
	BidTotalVol int64   `json:"bid_total_vol"`
	AskTotalVol int64   `json:"ask_total_vol"`

	Simtrade bool `json:"simtrade"`

	// error fields
	Code    string `json:"code"`
	Message string `json:"message"`
}

// frameTime converts the fractional epoch to a Taipei-local timestamp with
// microsecond precision.
func frameTime(ts float64) time.Time {
	return time.UnixMicro(int64(ts * 1e6)).In(model.Taipei)
}

func parseFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("feed: decode frame: %w", err)
	}
	if f.Event == "" {
		return frame{}, fmt.Errorf("feed: frame missing event")
	}
	return f, nil
}

func (f frame) tick() (model.Tick, error) {
	if f.Symbol == "" {
		return model.Tick{}, fmt.Errorf("feed: tick frame missing symbol")
	}
	if f.TS <= 0 {
		return model.Tick{}, fmt.Errorf("feed: tick frame missing ts")
	}
	return model.Tick{
		Symbol:          f.Symbol,
		TS:              frameTime(f.TS),
		Open:            f.Open,
		UnderlyingPrice: f.UnderlyingPrice,
		BidSideTotalVol: f.BidSideTotalVol,
		AskSideTotalVol: f.AskSideTotalVol,
		AvgPrice:        f.AvgPrice,
		Close:           f.Close,
		High:            f.High,
		Low:             f.Low,
		Amount:          f.Amount,
		TotalAmount:     f.TotalAmount,
		Volume:          f.Volume,
		TotalVolume:     f.TotalVolume,
		TickType:        model.TickType(f.TickType),
		ChgType:         f.ChgType,
		PriceChg:        f.PriceChg,
		PctChg:          f.PctChg,
		Simtrade:        f.Simtrade,
	}, nil
}

func (f frame) bidAsk() (model.BidAsk, error) {
	if f.Symbol == "" {
		return model.BidAsk{}, fmt.Errorf("feed: bidask frame missing symbol")
	}
	if f.TS <= 0 {
		return model.BidAsk{}, fmt.Errorf("feed: bidask frame missing ts")
	}
	return model.BidAsk{
		Symbol:          f.Symbol,
		TS:              frameTime(f.TS),
		BidPrice:        f.BidPrice,
		BidVolume:       f.BidVolume,
		AskPrice:        f.AskPrice,
		AskVolume:       f.AskVolume,
		BidTotalVol:     f.BidTotalVol,
		AskTotalVol:     f.AskTotalVol,
		UnderlyingPrice: f.UnderlyingPrice,
		Simtrade:        f.Simtrade,
	}, nil
}

// subscribeRequest is the channel subscription sent after connect.
type subscribeRequest struct {
	Action   string   `json:"action"` // subscribe / unsubscribe
	Channels []string `json:"channels"`
	Symbols  []string `json:"symbols"`
}
