package storage

import (
	"fmt"
	"time"
)

// CalendarDate packs a calendar date into a sortable 32-bit integer as
// `year<<9 | dayOfYear`. The day of year needs 9 bits (1-366), leaving 22
// bits for the year. Because the year occupies the high bits, the packed
// values sort chronologically.
type CalendarDate uint32

const maxYear = 1 << 22

// DateOf converts a time.Time (interpreted in UTC) to a CalendarDate.
func DateOf(t time.Time) CalendarDate {
	t = t.UTC()
	year := t.Year()
	if year < 0 || year >= maxYear {
		panic(fmt.Sprintf("year %d out of range for CalendarDate", year))
	}
	return CalendarDate(uint32(year)<<9 | uint32(t.YearDay()))
}

// ParseDate parses an ISO-8601 date (`2006-01-02`) as found in dump rows.
func ParseDate(value string) (CalendarDate, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return DateOf(t), nil
}

// Time returns the midnight UTC instant of the packed date.
func (d CalendarDate) Time() time.Time {
	year := int(d >> 9)
	ordinal := int(d & 0x1FF)
	// time.Date normalizes out-of-range days, so January `ordinal` lands on
	// the right day of the year.
	return time.Date(year, time.January, ordinal, 0, 0, 0, 0, time.UTC)
}

// SubDays subtracts n days using calendar arithmetic. Subtracting directly on
// the packed value would be wrong across year boundaries.
func (d CalendarDate) SubDays(n int) CalendarDate {
	return DateOf(d.Time().AddDate(0, 0, -n))
}

func (d CalendarDate) String() string {
	return d.Time().Format("2006-01-02")
}
