package market

import (
	"sort"
	"time"
)

// Event is anything ordered by an exchange timestamp. Both tick and bid-ask
// records satisfy it, so one binary-search range extraction serves both
// sequences.
type Event interface {
	Time() time.Time
}

// bisectLeft returns the lowest index i in [lo, hi) with buf[i].Time() >= ts,
// or hi if no such index exists.
func bisectLeft[E Event](buf []E, lo, hi int, ts time.Time) int {
	return lo + sort.Search(hi-lo, func(i int) bool {
		return !buf[lo+i].Time().Before(ts)
	})
}

// bisectRight returns the lowest index i in [lo, hi) with buf[i].Time() > ts,
// or hi if no such index exists.
func bisectRight[E Event](buf []E, lo, hi int, ts time.Time) int {
	return lo + sort.Search(hi-lo, func(i int) bool {
		return buf[lo+i].Time().After(ts)
	})
}

// QueryRange returns the contiguous sub-sequence of buf[lo:hi] whose
// timestamps satisfy start (<|<=) t (<=|<) end, with the bound inclusivity
// chosen by withStart/withEnd. buf[lo:hi] must be sorted by timestamp
// (non-decreasing). An empty or inverted range returns nil rather than
// panicking: the early session regularly queries windows with no data yet.
//
// The result aliases buf; callers must treat it as read-only. This is safe
// under the buffer's append-only discipline because indices below the
// published right edge never change.
func QueryRange[E Event](buf []E, lo, hi int, start, end time.Time, withStart, withEnd bool) []E {
	if lo < 0 {
		lo = 0
	}
	if hi > len(buf) {
		hi = len(buf)
	}
	if hi <= lo {
		return nil
	}

	var left int
	if withStart {
		left = bisectLeft(buf, lo, hi, start)
	} else {
		left = bisectRight(buf, lo, hi, start)
	}

	var right int
	if withEnd {
		right = bisectRight(buf, lo, hi, end)
	} else {
		right = bisectLeft(buf, lo, hi, end)
	}

	if right <= left {
		return nil
	}
	return buf[left:right]
}

// IndexRange is QueryRange returning indices instead of a slice. Used where
// the caller addresses the underlying history directly (change-rate lookups).
func IndexRange[E Event](buf []E, lo, hi int, start, end time.Time, withStart, withEnd bool) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > len(buf) {
		hi = len(buf)
	}
	if hi <= lo {
		return 0, 0
	}

	var left int
	if withStart {
		left = bisectLeft(buf, lo, hi, start)
	} else {
		left = bisectRight(buf, lo, hi, start)
	}

	var right int
	if withEnd {
		right = bisectRight(buf, lo, hi, end)
	} else {
		right = bisectLeft(buf, lo, hi, end)
	}

	if right < left {
		right = left
	}
	return left, right
}
