package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"timetablecal/internal/model"
)

// Boundary selects which end of an entry's time range to resolve.
type Boundary int

const (
	Start Boundary = iota
	End
)

var (
	ErrUnknownWeekday = errors.New("unknown weekday")
	ErrBadTimeRange   = errors.New("time range is not HH:MM-HH:MM")
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// byDay holds the RRULE BYDAY token for each weekday, indexed Sunday=0.
var byDay = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseWeekday maps a full weekday name (any case) to time.Weekday.
func ParseWeekday(name string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	return wd, ok
}

// ParseTimeRange splits "HH:MM-HH:MM" into its start and end clocks.
func ParseTimeRange(s string) (Clock, Clock, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Clock{}, Clock{}, fmt.Errorf("%w: %q", ErrBadTimeRange, s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return Clock{}, Clock{}, fmt.Errorf("%w: %q", ErrBadTimeRange, s)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return Clock{}, Clock{}, fmt.Errorf("%w: %q", ErrBadTimeRange, s)
	}
	return start, end, nil
}

func parseClock(s string) (Clock, error) {
	hm := strings.Split(strings.TrimSpace(s), ":")
	if len(hm) != 2 {
		return Clock{}, ErrBadTimeRange
	}
	h, err := strconv.Atoi(hm[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, ErrBadTimeRange
	}
	m, err := strconv.Atoi(hm[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, ErrBadTimeRange
	}
	return Clock{Hour: h, Minute: m}, nil
}

// NextOccurrence returns the soonest date-time, relative to now, that falls
// on the entry's weekday at the selected boundary's clock time. A slot that
// starts exactly at now counts as already passed and moves a week ahead.
// The result is in now's location. ok is false when the weekday or the time
// range cannot be parsed.
func NextOccurrence(e model.Entry, b Boundary, now time.Time) (time.Time, bool) {
	target, ok := ParseWeekday(e.Day)
	if !ok {
		return time.Time{}, false
	}
	start, end, err := ParseTimeRange(e.Time)
	if err != nil {
		return time.Time{}, false
	}
	c := start
	if b == End {
		c = end
	}

	diff := (int(target) - int(now.Weekday()) + 7) % 7
	if diff == 0 {
		today := atClock(now, c)
		if !today.After(now) {
			diff = 7
		}
	}

	return atClock(now.AddDate(0, 0, diff), c), true
}

// atClock returns t's calendar date at clock c, seconds zeroed.
func atClock(t time.Time, c Clock) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, t.Location())
}
