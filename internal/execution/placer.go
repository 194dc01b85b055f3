// Package execution places orders and tracks fills and positions. The live
// brokerage adapter and the paper placer share one interface, so strategies
// and the runner never know which one they drive.
package execution

import (
	"context"
	"time"
)

// Action is the order side.
type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
)

// Opposite returns the closing side for a position entered with a.
func (a Action) Opposite() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// Order is one placement request. Price 0 means market.
type Order struct {
	Symbol   string
	Action   Action
	Qty      int64
	Price    float64
	Strategy string
	Reason   string
}

// Fill is one confirmed execution.
type Fill struct {
	OrderID  string
	Symbol   string
	Action   Action
	Qty      int64
	Price    float64
	Slippage float64
	Strategy string
	Reason   string
	FilledAt time.Time
}

// Position is current net exposure on one side of one symbol.
type Position struct {
	Symbol    string
	Action    Action // side the position was entered with
	Qty       int64
	AvgPrice  float64
	UpdatedAt time.Time
}

// Placer is the order-execution boundary the runner drives.
type Placer interface {
	// Place submits an order and returns its ID.
	Place(ctx context.Context, o Order) (string, error)
	// WaitForFill blocks until the order is completely dealt or ctx ends.
	WaitForFill(ctx context.Context, orderID string) (Fill, error)
	// Positions lists current non-flat positions, long and short separately.
	Positions() []Position
	// CloseAll flattens every open position at market.
	CloseAll(ctx context.Context, reason string) error
}
