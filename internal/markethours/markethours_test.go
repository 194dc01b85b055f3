package markethours

import (
	"testing"
	"time"

	"tmf-trader/internal/model"
)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, model.Taipei)
}

func TestSessionDate(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		// 2025-03-14 is a Friday
		{"friday day session", at(2025, 3, 14, 10, 0), at(2025, 3, 14, 0, 0)},
		{"friday night rolls to monday", at(2025, 3, 14, 20, 0), at(2025, 3, 17, 0, 0)},
		{"saturday early tail rolls to monday", at(2025, 3, 15, 3, 0), at(2025, 3, 17, 0, 0)},
		{"thursday night rolls to friday", at(2025, 3, 13, 22, 0), at(2025, 3, 14, 0, 0)},
		{"friday early tail stays friday", at(2025, 3, 14, 3, 0), at(2025, 3, 14, 0, 0)},
	}
	for _, tc := range cases {
		if got := SessionDate(tc.in); !got.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSessionTag(t *testing.T) {
	if got := SessionTag(at(2025, 3, 14, 20, 0)); got != "2025.03.17" {
		t.Errorf("tag: got %q, want 2025.03.17", got)
	}
}

func TestInDaySession(t *testing.T) {
	if !InDaySession(at(2025, 3, 14, 9, 0)) {
		t.Error("09:00 Friday should be in the day session")
	}
	if InDaySession(at(2025, 3, 14, 14, 0)) {
		t.Error("14:00 is after the day close")
	}
	if InDaySession(at(2025, 3, 15, 9, 0)) {
		t.Error("Saturday has no day session")
	}
}

func TestInNightSession(t *testing.T) {
	if !InNightSession(at(2025, 3, 14, 22, 0)) {
		t.Error("Friday 22:00 should be in the night session")
	}
	if !InNightSession(at(2025, 3, 15, 4, 0)) {
		t.Error("Saturday 04:00 is the Friday night tail")
	}
	if InNightSession(at(2025, 3, 14, 14, 0)) {
		t.Error("14:00 is between sessions")
	}
	if InNightSession(at(2025, 3, 16, 4, 0)) {
		t.Error("Sunday morning has no session")
	}
}
