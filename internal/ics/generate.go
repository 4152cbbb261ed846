package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "timetablecal/internal/log"
	"timetablecal/internal/model"
)

const (
	DefaultCalendarName = "My University Timetable"
	DefaultIdentifier   = "timetable-organizer"

	productID        = "-//Timetable Organizer//EN"
	eventDescription = "Generated from Timetable Organizer. Automatically repeats weekly."

	// floatingLayout is a DATE-TIME without zone suffix: wall-clock time in
	// whatever zone the calendar client uses.
	floatingLayout = "20060102T150405"
)

// SkipReason tells why an entry produced no event.
type SkipReason string

const (
	SkipUnknownWeekday SkipReason = "unknown weekday"
	SkipBadTimeRange   SkipReason = "unparseable time range"
)

// Skipped records one dropped entry.
type Skipped struct {
	Index   int        `json:"index"`
	Subject string     `json:"subject"`
	Day     string     `json:"day"`
	Time    string     `json:"time"`
	Reason  SkipReason `json:"reason"`
}

// Result is the output of Generate.
type Result struct {
	// Calendar is the serialized VCALENDAR document.
	Calendar string
	// Events is the number of VEVENT blocks in Calendar.
	Events int
	// Skipped lists entries that were dropped, in input order.
	Skipped []Skipped
}

// Generator turns timetable entries into a weekly recurring calendar.
type Generator struct {
	// CalendarName is written as X-WR-CALNAME. Defaults to
	// DefaultCalendarName.
	CalendarName string

	// Location is the zone wall-clock times are resolved in. Defaults to
	// time.Local.
	Location *time.Location

	// Now returns the current moment. Defaults to time.Now; tests freeze it.
	Now func() time.Time
}

// Generate builds one calendar document for entries. identifier is the
// domain part of every UID. Entries whose weekday or time range cannot be
// resolved are left out and reported in Result.Skipped; Generate itself
// never fails.
func (g *Generator) Generate(entries []model.Entry, identifier string) Result {
	now := g.now()
	if identifier == "" {
		identifier = DefaultIdentifier
	}

	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetCalscale("GREGORIAN")
	cal.SetXWRCalName(g.calendarName())

	res := Result{}

	for i, e := range entries {
		ev, reason, ok := buildEvent(e, i, identifier, now)
		if !ok {
			res.Skipped = append(res.Skipped, Skipped{
				Index:   i,
				Subject: e.Subject,
				Day:     e.Day,
				Time:    e.Time,
				Reason:  reason,
			})
			appLog.Debug("ics generate: entry skipped", "index", i, "day", e.Day, "time", e.Time, "reason", string(reason))
			continue
		}
		cal.AddVEvent(ev)
		res.Events++
	}

	var b strings.Builder
	// Serializing into a strings.Builder cannot fail.
	_ = cal.SerializeTo(&b, ical.WithNewLineWindows)
	res.Calendar = b.String()

	appLog.Info("ics generate completed", "entries", len(entries), "events", res.Events, "skipped", len(res.Skipped))
	return res
}

// WriteTo generates the calendar for entries and writes it to w.
func (g *Generator) WriteTo(w io.Writer, entries []model.Entry, identifier string) (Result, error) {
	res := g.Generate(entries, identifier)
	if _, err := io.WriteString(w, res.Calendar); err != nil {
		return res, fmt.Errorf("ics: write calendar: %w", err)
	}
	return res, nil
}

func buildEvent(e model.Entry, index int, identifier string, now time.Time) (*ical.VEvent, SkipReason, bool) {
	wd, ok := ParseWeekday(e.Day)
	if !ok {
		return nil, SkipUnknownWeekday, false
	}

	start, ok := NextOccurrence(e, Start, now)
	if !ok {
		return nil, SkipBadTimeRange, false
	}
	end, ok := NextOccurrence(e, End, now)
	if !ok {
		return nil, SkipBadTimeRange, false
	}
	end = anchorEnd(start, end)

	dtStart := start.Format(floatingLayout)

	ev := ical.NewEvent(fmt.Sprintf("%s-%d@%s", dtStart, index, identifier))
	ev.SetDtStampTime(now)
	ev.SetProperty(ical.ComponentPropertyDtStart, dtStart)
	ev.SetProperty(ical.ComponentPropertyDtEnd, end.Format(floatingLayout))
	// SUMMARY/LOCATION are TEXT; the serializer escapes ',', ';', '\' and
	// newlines.
	ev.SetSummary(e.Subject)
	if loc := strings.TrimSpace(e.Location); loc != "" {
		ev.SetLocation(e.Location)
	}
	ev.SetDescription(eventDescription)
	ev.AddRrule("FREQ=WEEKLY;BYDAY=" + byDay[wd])

	return ev, "", true
}

// anchorEnd moves the independently resolved end onto the start's date, or
// the following date when the end clock is earlier than the start clock.
// Start and end resolved on their own land in different weeks once the
// start of today's slot has passed but its end has not.
func anchorEnd(start, end time.Time) time.Time {
	out := time.Date(start.Year(), start.Month(), start.Day(), end.Hour(), end.Minute(), 0, 0, start.Location())
	if out.Before(start) {
		out = out.AddDate(0, 0, 1)
	}
	return out
}

func (g *Generator) now() time.Time {
	var now time.Time
	if g.Now != nil {
		now = g.Now()
	} else {
		now = time.Now()
	}
	if g.Location != nil {
		now = now.In(g.Location)
	}
	return now
}

func (g *Generator) calendarName() string {
	if g.CalendarName == "" {
		return DefaultCalendarName
	}
	return g.CalendarName
}
