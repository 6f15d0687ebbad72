// Package expiry computes weekly options expiry dates from a trading calendar.
package expiry

import "time"

// expiryWeekday is the exchange's weekly index expiry day.
const expiryWeekday = time.Tuesday

// Holidays is the set of trading holidays, keyed by calendar date.
type Holidays map[time.Time]struct{}

// NewHolidays builds a holiday set from calendar dates. Times are truncated to
// midnight UTC so lookups ignore the time-of-day component.
func NewHolidays(dates ...time.Time) Holidays {
	h := make(Holidays, len(dates))
	for _, d := range dates {
		h[dateOnly(d)] = struct{}{}
	}
	return h
}

// Contains reports whether the date is a trading holiday.
func (h Holidays) Contains(d time.Time) bool {
	_, ok := h[dateOnly(d)]
	return ok
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextExpiry returns the weeksAhead-th weekly expiry on or after today.
//
// The base expiry is the first Tuesday on or after today; weeksAhead advances
// from there in 7-day steps. When the computed Tuesday is a holiday the expiry
// settles on the prior calendar day, matching brokerage settlement rules.
// weeksAhead=0 on a non-holiday Tuesday returns today itself.
func NextExpiry(weeksAhead int, today time.Time, holidays Holidays) time.Time {
	if weeksAhead < 0 {
		weeksAhead = 0
	}
	d := dateOnly(today)
	for d.Weekday() != expiryWeekday {
		d = d.AddDate(0, 0, 1)
	}
	d = d.AddDate(0, 0, 7*weeksAhead)
	if holidays.Contains(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
