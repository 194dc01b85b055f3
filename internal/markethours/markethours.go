// Package markethours resolves TAIFEX session timing: which trading day a
// timestamp belongs to, and whether the day or night session is running.
//
// TAIFEX futures trade a day session (08:45–13:45) and a night session
// (15:00–05:00 next morning). Everything from the 15:00 night open onward
// settles on the NEXT trading day, which is why session-date resolution is
// not a plain calendar-date lookup.
package markethours

import (
	"time"

	"tmf-trader/internal/model"
)

// Session hours in exchange local time.
const (
	DayOpenHour    = 8
	DayOpenMinute  = 45
	DayCloseHour   = 13
	DayCloseMinute = 45

	NightOpenHour  = 15
	NightCloseHour = 5
)

// SessionDateFormat is the date tag used in store keys, e.g. "2025.03.14".
const SessionDateFormat = "2006.01.02"

// SessionDate returns the trading day a timestamp settles on. From the night
// open (15:00) until midnight the data belongs to the next trading day;
// Friday night rolls to Monday, and Saturday's early-morning tail keeps
// Monday as well.
func SessionDate(t time.Time) time.Time {
	lt := t.In(model.Taipei)
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, model.Taipei)

	switch {
	case lt.Hour() >= NightOpenHour: // night session before midnight
		if lt.Weekday() == time.Friday {
			return day.AddDate(0, 0, 3)
		}
		return day.AddDate(0, 0, 1)
	case lt.Weekday() == time.Saturday: // night session tail after midnight
		return day.AddDate(0, 0, 2)
	default:
		return day
	}
}

// SessionTag renders the session date as a store key segment.
func SessionTag(t time.Time) string {
	return SessionDate(t).Format(SessionDateFormat)
}

// InDaySession reports whether t falls inside the day session.
func InDaySession(t time.Time) bool {
	lt := t.In(model.Taipei)
	if wd := lt.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	hm := lt.Hour()*60 + lt.Minute()
	return hm >= DayOpenHour*60+DayOpenMinute && hm <= DayCloseHour*60+DayCloseMinute
}

// InNightSession reports whether t falls inside the night session.
func InNightSession(t time.Time) bool {
	lt := t.In(model.Taipei)
	h := lt.Hour()
	wd := lt.Weekday()
	switch {
	case h >= NightOpenHour:
		return wd >= time.Monday && wd <= time.Friday
	case h < NightCloseHour: // previous evening's session, past midnight
		return wd >= time.Tuesday && wd <= time.Saturday
	default:
		return false
	}
}
