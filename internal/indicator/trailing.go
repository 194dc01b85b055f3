package indicator

import (
	"errors"
	"fmt"
	"math"
)

// ErrDirectionFlip reports a trailing-stop direction change without an
// intervening Reset.
var ErrDirectionFlip = errors.New("indicator: trailing stop direction changed without reset")

// TrailingStop is the one-directional ratchet strategies drive directly,
// outside the manager registry: the stop only ever tightens toward the
// price, by an offset capped at maxLoss.
type TrailingStop struct {
	volatility func() float64

	direction int // 0 unset, 1 long, -1 short
	level     float64
	seeded    bool
}

// NewTrailingStop builds a calculator reading current volatility from the
// given source (typically the SD manager's value).
func NewTrailingStop(volatility func() float64) *TrailingStop {
	return &TrailingStop{volatility: volatility}
}

// Reset clears the ratchet and the direction so the next Calc re-anchors.
func (t *TrailingStop) Reset() {
	t.direction = 0
	t.level = 0
	t.seeded = false
}

// Level returns the current stop level, false before the first Calc.
func (t *TrailingStop) Level() (float64, bool) {
	return t.level, t.seeded
}

// Calc advances the ratchet for the given position direction and price.
// offset = min(maxLoss, volatility*mult). The first call after Reset seeds
// the level from price -/+ offset; later calls only move it toward the price.
// Flipping direction without Reset is a usage error.
func (t *TrailingStop) Calc(long bool, price, mult, maxLoss float64) (float64, error) {
	dir := -1
	if long {
		dir = 1
	}
	if t.direction != 0 && t.direction != dir {
		return 0, fmt.Errorf("%w: have %d, got %d", ErrDirectionFlip, t.direction, dir)
	}
	t.direction = dir

	offset := math.Min(maxLoss, t.volatility()*mult)
	if !t.seeded {
		t.seeded = true
		if long {
			t.level = price - offset
		} else {
			t.level = price + offset
		}
		return t.level, nil
	}
	if long {
		t.level = math.Max(t.level, price-offset)
	} else {
		t.level = math.Min(t.level, price+offset)
	}
	return t.level, nil
}
