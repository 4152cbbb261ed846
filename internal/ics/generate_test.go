package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetablecal/internal/model"
)

func frozenGenerator(now time.Time) *Generator {
	return &Generator{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}
}

// unfold reverses RFC 5545 line folding and normalizes CRLF to LF.
func unfold(s string) string {
	s = strings.ReplaceAll(s, "\r\n ", "")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func TestGenerate_SingleEvent(t *testing.T) {
	g := frozenGenerator(at(19, 9, 0))

	res := g.Generate([]model.Entry{
		{Day: "Monday", Time: "10:00-11:30", Subject: "Linear Algebra", Location: "Room 101"},
	}, "test-id")

	assert.Equal(t, 1, res.Events)
	assert.Empty(t, res.Skipped)

	want := strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:20261019T100000-0@test-id",
		"DTSTAMP:20261019T090000Z",
		"DTSTART:20261019T100000",
		"DTEND:20261019T113000",
		"SUMMARY:Linear Algebra",
		"LOCATION:Room 101",
		"DESCRIPTION:Generated from Timetable Organizer. Automatically repeats weekly.",
		"RRULE:FREQ=WEEKLY;BYDAY=MO",
		"END:VEVENT",
	}, "\n")
	assert.Contains(t, unfold(res.Calendar), want)
}

func TestGenerate_Header(t *testing.T) {
	g := frozenGenerator(at(19, 9, 0))
	g.CalendarName = "Spring Term"

	cal := unfold(g.Generate(nil, "test-id").Calendar)

	assert.True(t, strings.HasPrefix(cal, "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Timetable Organizer//EN\nCALSCALE:GREGORIAN\nX-WR-CALNAME:Spring Term\n"), cal)
	assert.True(t, strings.HasSuffix(cal, "END:VCALENDAR\n"), cal)
}

func TestGenerate_EmptyInputHasNoEvents(t *testing.T) {
	res := frozenGenerator(at(19, 9, 0)).Generate([]model.Entry{}, "test-id")

	assert.Equal(t, 0, res.Events)
	assert.Empty(t, res.Skipped)
	assert.NotContains(t, res.Calendar, "BEGIN:VEVENT")
	assert.Contains(t, res.Calendar, "BEGIN:VCALENDAR")
	assert.Contains(t, res.Calendar, "END:VCALENDAR")
}

func TestGenerate_SkipsUnknownWeekday(t *testing.T) {
	res := frozenGenerator(at(19, 9, 0)).Generate([]model.Entry{
		{Day: "Funday", Time: "10:00-11:30", Subject: "Party Planning"},
		{Day: "Tuesday", Time: "10:00-11:30", Subject: "Physics"},
	}, "test-id")

	assert.Equal(t, 1, res.Events)
	assert.NotContains(t, res.Calendar, "Party Planning")
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, Skipped{Index: 0, Subject: "Party Planning", Day: "Funday", Time: "10:00-11:30", Reason: SkipUnknownWeekday}, res.Skipped[0])

	// Index in the UID is the input position, so the surviving event keeps 1.
	assert.Contains(t, res.Calendar, "UID:20261020T100000-1@test-id")
}

func TestGenerate_SkipsMalformedTime(t *testing.T) {
	res := frozenGenerator(at(19, 9, 0)).Generate([]model.Entry{
		{Day: "Monday", Time: "1000-1130", Subject: "Chemistry"},
	}, "test-id")

	assert.Equal(t, 0, res.Events)
	assert.NotContains(t, res.Calendar, "Chemistry")
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, SkipBadTimeRange, res.Skipped[0].Reason)
}

func TestGenerate_EscapesCommas(t *testing.T) {
	res := frozenGenerator(at(19, 9, 0)).Generate([]model.Entry{
		{Day: "Friday", Time: "14:00-15:00", Subject: "Math, Advanced", Location: "Hall A, 2nd floor"},
	}, "test-id")

	cal := unfold(res.Calendar)
	assert.Contains(t, cal, `SUMMARY:Math\, Advanced`)
	assert.Contains(t, cal, `LOCATION:Hall A\, 2nd floor`)
}

func TestGenerate_OmitsEmptyLocation(t *testing.T) {
	res := frozenGenerator(at(19, 9, 0)).Generate([]model.Entry{
		{Day: "Friday", Time: "14:00-15:00", Subject: "Seminar"},
	}, "test-id")

	assert.NotContains(t, res.Calendar, "LOCATION")
}

func TestGenerate_DuplicatesGetDistinctUIDs(t *testing.T) {
	e := model.Entry{Day: "Wednesday", Time: "08:00-09:00", Subject: "Biology"}
	res := frozenGenerator(at(19, 9, 0)).Generate([]model.Entry{e, e}, "test-id")

	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 2, strings.Count(res.Calendar, "BEGIN:VEVENT"))
	assert.Contains(t, res.Calendar, "UID:20261021T080000-0@test-id")
	assert.Contains(t, res.Calendar, "UID:20261021T080000-1@test-id")
}

func TestGenerate_SharedDTStampAndDefaults(t *testing.T) {
	res := frozenGenerator(at(19, 9, 0)).Generate([]model.Entry{
		{Day: "Monday", Time: "10:00-11:00", Subject: "A"},
		{Day: "Thursday", Time: "12:00-13:00", Subject: "B"},
	}, "")

	assert.Equal(t, 2, strings.Count(res.Calendar, "DTSTAMP:20261019T090000Z"))
	assert.Contains(t, res.Calendar, "@"+DefaultIdentifier)
	assert.Contains(t, res.Calendar, "X-WR-CALNAME:"+DefaultCalendarName)
	assert.Contains(t, res.Calendar, "RRULE:FREQ=WEEKLY;BYDAY=TH")
}

func TestGenerate_DTStampIsUTC(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	g := &Generator{
		Location: loc,
		Now:      func() time.Time { return time.Date(2026, time.October, 19, 9, 0, 0, 0, loc) },
	}

	res := g.Generate([]model.Entry{{Day: "Monday", Time: "10:00-11:00", Subject: "A"}}, "x")

	assert.Contains(t, res.Calendar, "DTSTAMP:20261019T000000Z")
	assert.Contains(t, res.Calendar, "DTSTART:20261019T100000")
}

func TestGenerate_EndAnchoredToStart(t *testing.T) {
	// Monday 10:30: today's 10:00 start has passed, its 11:30 end has not.
	// The event must still end after it starts, a week out.
	res := frozenGenerator(at(19, 10, 30)).Generate([]model.Entry{
		{Day: "Monday", Time: "10:00-11:30", Subject: "Math"},
	}, "x")

	assert.Contains(t, res.Calendar, "DTSTART:20261026T100000")
	assert.Contains(t, res.Calendar, "DTEND:20261026T113000")
}

func TestGenerate_OvernightRangeEndsNextDay(t *testing.T) {
	res := frozenGenerator(at(19, 9, 0)).Generate([]model.Entry{
		{Day: "Saturday", Time: "22:00-01:00", Subject: "Observatory"},
	}, "x")

	assert.Contains(t, res.Calendar, "DTSTART:20261024T220000")
	assert.Contains(t, res.Calendar, "DTEND:20261025T010000")
}

func TestGenerate_Deterministic(t *testing.T) {
	entries := []model.Entry{
		{Day: "Monday", Time: "10:00-11:30", Subject: "Math, Advanced", Location: "R1"},
		{Day: "Funday", Time: "10:00-11:30", Subject: "X"},
		{Day: "Sunday", Time: "18:00-19:00", Subject: "Choir"},
	}
	a := frozenGenerator(at(21, 15, 0)).Generate(entries, "id")
	b := frozenGenerator(at(21, 15, 0)).Generate(entries, "id")

	assert.Equal(t, a.Calendar, b.Calendar)
}

func TestGenerate_UsesCRLF(t *testing.T) {
	res := frozenGenerator(at(19, 9, 0)).Generate(nil, "x")

	assert.True(t, strings.HasPrefix(res.Calendar, "BEGIN:VCALENDAR\r\n"))
}

func TestWriteTo(t *testing.T) {
	var buf bytes.Buffer
	res, err := frozenGenerator(at(19, 9, 0)).WriteTo(&buf, []model.Entry{
		{Day: "Monday", Time: "10:00-11:00", Subject: "A"},
	}, "x")

	require.NoError(t, err)
	assert.Equal(t, res.Calendar, buf.String())
}
