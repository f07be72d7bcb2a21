package storage

import (
	"testing"
	"time"
)

func TestCalendarDateRoundTrip(t *testing.T) {
	for _, year := range []int{1970, 2000, 2023, 2024, 4000} {
		days := 365
		if isLeapYear(year) {
			days = 366
		}
		for day := 1; day <= days; day++ {
			want := time.Date(year, time.January, day, 0, 0, 0, 0, time.UTC)
			got := DateOf(want).Time()
			if !got.Equal(want) {
				t.Fatalf("round trip of %v produced %v", want, got)
			}
		}
	}
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func TestCalendarDateSortsChronologically(t *testing.T) {
	previous := CalendarDate(0)
	date := time.Date(2019, time.December, 25, 0, 0, 0, 0, time.UTC)
	for date.Year() < 2021 {
		packed := DateOf(date)
		if packed <= previous {
			t.Fatalf("packed date for %v (%d) is not greater than its predecessor (%d)", date, packed, previous)
		}
		previous = packed
		date = date.AddDate(0, 0, 1)
	}
}

func TestCalendarDateSubDays(t *testing.T) {
	tests := []struct {
		date string
		days int
		want string
	}{
		{"2024-01-10", 7, "2024-01-03"},
		// Crossing a year boundary requires calendar arithmetic; integer
		// subtraction on the packed value would produce day-of-year 0.
		{"2024-01-03", 7, "2023-12-27"},
		{"2024-03-01", 1, "2024-02-29"},
		{"2023-03-01", 1, "2023-02-28"},
		{"2024-01-10", 0, "2024-01-10"},
	}

	for _, tt := range tests {
		date, err := ParseDate(tt.date)
		if err != nil {
			t.Fatalf("ParseDate(%q) error: %v", tt.date, err)
		}
		if got := date.SubDays(tt.days).String(); got != tt.want {
			t.Errorf("%v - %d days = %v, want %v", tt.date, tt.days, got, tt.want)
		}
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "2024", "2024-13-01", "10-01-2024", "yesterday"} {
		if _, err := ParseDate(input); err == nil {
			t.Errorf("ParseDate(%q) did not return an error", input)
		}
	}
}
