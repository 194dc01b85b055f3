// Package indicator implements the incremental sliding-window indicator
// engine: per-kind managers that maintain sufficient statistics over a
// trailing time window of market events, updating in O(events per tick)
// instead of O(window) as the window slides.
package indicator

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies an indicator family. The string values are part of the
// durable key and wire formats.
type Kind string

const (
	KindMA           Kind = "pma" // volume-weighted price moving average
	KindVMA          Kind = "vma" // volume moving average per unit interval
	KindSD           Kind = "sd"  // population standard deviation
	KindCovariance   Kind = "covariance"
	KindSellBuyRatio Kind = "sell_buy_ratio"
	KindBidAskRatio  Kind = "bid_ask_ratio"
	KindSDStopLoss   Kind = "sd_stop_loss"
	KindDonchian     Kind = "donchian"
	KindChangeRate   Kind = "indicator_change_rate"
)

var allKinds = map[Kind]bool{
	KindMA: true, KindVMA: true, KindSD: true, KindCovariance: true,
	KindSellBuyRatio: true, KindBidAskRatio: true, KindSDStopLoss: true,
	KindDonchian: true, KindChangeRate: true,
}

// ParseKind converts a stored string back to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !allKinds[k] {
		return "", fmt.Errorf("indicator: unknown kind %q", s)
	}
	return k, nil
}

// Key identifies one manager instance: kind plus window length, plus the
// bucketing unit for kinds that have one (VMA). The provider guarantees at
// most one manager per key.
type Key struct {
	Kind   Kind
	Window time.Duration
	Unit   time.Duration // zero for unitless kinds
}

// String renders the key the way store keys embed it, e.g. "pma630s" or
// "vma1440s/60s".
func (k Key) String() string {
	s := string(k.Kind) + strconv.FormatInt(int64(k.Window.Seconds()), 10) + "s"
	if k.Unit > 0 {
		s += "/" + strconv.FormatInt(int64(k.Unit.Seconds()), 10) + "s"
	}
	return s
}
