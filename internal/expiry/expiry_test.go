package expiry

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextExpiry_TodayIsTuesday(t *testing.T) {
	// 2025-09-02 is a Tuesday.
	today := date(2025, time.September, 2)
	got := NextExpiry(0, today, nil)
	if !got.Equal(today) {
		t.Errorf("NextExpiry(0) on a non-holiday Tuesday = %v, want today %v", got, today)
	}
}

func TestNextExpiry_AdvancesToTuesday(t *testing.T) {
	tests := []struct {
		name  string
		today time.Time
		want  time.Time
	}{
		{"wednesday rolls to next week", date(2025, time.September, 3), date(2025, time.September, 9)},
		{"saturday rolls forward", date(2025, time.September, 6), date(2025, time.September, 9)},
		{"monday rolls to tomorrow", date(2025, time.September, 8), date(2025, time.September, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextExpiry(0, tt.today, nil)
			if !got.Equal(tt.want) {
				t.Errorf("NextExpiry(0, %v) = %v, want %v", tt.today, got, tt.want)
			}
		})
	}
}

func TestNextExpiry_WeeksAhead(t *testing.T) {
	today := date(2025, time.September, 4) // Thursday
	base := NextExpiry(0, today, nil)
	for w := 0; w < 8; w++ {
		got := NextExpiry(w, today, nil)
		want := base.AddDate(0, 0, 7*w)
		if !got.Equal(want) {
			t.Errorf("NextExpiry(%d) = %v, want %v", w, got, want)
		}
		if got.Weekday() != time.Tuesday {
			t.Errorf("NextExpiry(%d) = %v, not a Tuesday", w, got)
		}
	}
}

func TestNextExpiry_HolidayStepsBack(t *testing.T) {
	// 2025-09-09 is a Tuesday; declare it a holiday.
	holidays := NewHolidays(date(2025, time.September, 9))
	got := NextExpiry(0, date(2025, time.September, 3), holidays)
	want := date(2025, time.September, 8) // prior Monday
	if !got.Equal(want) {
		t.Errorf("NextExpiry on holiday Tuesday = %v, want prior day %v", got, want)
	}
}

func TestNextExpiry_HolidayTodayTuesday(t *testing.T) {
	today := date(2025, time.September, 2)
	holidays := NewHolidays(today)
	got := NextExpiry(0, today, holidays)
	want := date(2025, time.September, 1)
	if !got.Equal(want) {
		t.Errorf("NextExpiry(0) on holiday Tuesday = %v, want %v", got, want)
	}
}

func TestNextExpiry_SevenDaySpacing(t *testing.T) {
	today := date(2025, time.October, 1)
	for w := 0; w < 6; w++ {
		a := NextExpiry(w, today, nil)
		b := NextExpiry(w+1, today, nil)
		if diff := b.Sub(a); diff != 7*24*time.Hour {
			t.Errorf("spacing between week %d and %d = %v, want 168h", w, w+1, diff)
		}
	}
}

func TestNextExpiry_NegativeWeeksClamped(t *testing.T) {
	today := date(2025, time.September, 4)
	if got, want := NextExpiry(-3, today, nil), NextExpiry(0, today, nil); !got.Equal(want) {
		t.Errorf("NextExpiry(-3) = %v, want %v", got, want)
	}
}

func TestHolidays_IgnoresTimeOfDay(t *testing.T) {
	h := NewHolidays(time.Date(2025, time.September, 9, 15, 30, 0, 0, time.UTC))
	if !h.Contains(date(2025, time.September, 9)) {
		t.Error("holiday lookup should ignore time-of-day")
	}
	if h.Contains(date(2025, time.September, 10)) {
		t.Error("non-holiday date reported as holiday")
	}
}
