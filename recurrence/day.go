package recurrence

import (
	"fmt"
	"time"
)

const (
	secondsPerDay = 24 * 60 * 60
	dayLayout     = "2006-01-02"
)

// Day is a calendar day counted from 1970-01-01. It carries no time of day and
// no zone, so two Days compare equal exactly when they name the same date.
type Day int

// DayOf returns the calendar day t falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	civil := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Day(civil.Unix() / secondsPerDay)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse day %q: %w", s, err)
	}
	return Day(t.Unix() / secondsPerDay), nil
}

func (d Day) civil() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// Time returns midnight of d in loc.
func (d Day) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	c := d.civil()
	return time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last millisecond of d in loc.
func (d Day) EndOfDay(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	c := d.civil()
	return time.Date(c.Year(), c.Month(), c.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
}

func (d Day) AddDays(n int) Day  { return d + Day(n) }
func (d Day) AddWeeks(n int) Day { return d + Day(7*n) }

func (d Day) Weekday() time.Weekday { return d.civil().Weekday() }

func (d Day) String() string { return d.civil().Format(dayLayout) }
