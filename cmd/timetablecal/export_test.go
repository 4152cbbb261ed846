package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetablecal/internal/model"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestReadEntries(t *testing.T) {
	dir := t.TempDir()
	want := []model.Entry{
		{Day: "Monday", Time: "10:00-11:00", Subject: "Math", Location: "Room 101"},
		{Day: "Friday", Time: "08:15-09:45", Subject: "Physics"},
	}

	t.Run("json", func(t *testing.T) {
		p := writeFile(t, dir, "e.json", `[
	{"day": "Monday", "time": "10:00-11:00", "subject": "Math", "location": "Room 101"},
	{"day": "Friday", "time": "08:15-09:45", "subject": "Physics"}
]`)
		got, err := readEntries(p)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("yaml", func(t *testing.T) {
		p := writeFile(t, dir, "e.yaml", `- day: Monday
  time: "10:00-11:00"
  subject: Math
  location: Room 101
- day: Friday
  time: "08:15-09:45"
  subject: Physics
`)
		got, err := readEntries(p)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("empty list", func(t *testing.T) {
		_, err := readEntries(writeFile(t, dir, "empty.json", `[]`))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readEntries(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestRunExport(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	dir := t.TempDir()

	old := configPath
	configPath = filepath.Join(dir, "timetablecal.yaml")
	t.Cleanup(func() { configPath = old })

	input := writeFile(t, dir, "entries.yaml", `- {day: Tuesday, time: "09:00-10:30", subject: "Chemistry, Lab", location: B2}
- {day: Someday, time: "09:00-10:30", subject: Ghost, location: ""}
`)
	output := filepath.Join(dir, "out.ics")

	var stdout bytes.Buffer
	require.NoError(t, runExport(&stdout, input, output, "example.org"))

	assert.Contains(t, stdout.String(), "Exported 1 of 2 entries")
	assert.Contains(t, stdout.String(), `skipped #2 "Ghost"`)

	_, err := os.Stat(configPath)
	assert.True(t, os.IsNotExist(err), "export must not write a config file")

	body, err := os.ReadFile(output)
	require.NoError(t, err)
	cal := string(body)
	assert.Equal(t, 1, strings.Count(cal, "BEGIN:VEVENT"))
	assert.Contains(t, cal, "RRULE:FREQ=WEEKLY;BYDAY=TU")
	assert.Contains(t, cal, "@example.org")
	assert.Contains(t, cal, `SUMMARY:Chemistry\, Lab`)
}

func TestRunExport_WriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	dir := t.TempDir()
	old := configPath
	configPath = filepath.Join(dir, "timetablecal.yaml")
	t.Cleanup(func() { configPath = old })

	input := writeFile(t, dir, "e.json", `[{"day":"Monday","time":"10:00-11:00","subject":"Math","location":""}]`)
	var stdout bytes.Buffer
	err := runExport(&stdout, input, "/dev/full", "")
	assert.Error(t, err)
	assert.Empty(t, stdout.String())
}
