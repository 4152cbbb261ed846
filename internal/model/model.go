package model

import "time"

// Entry is one weekly recurring class as extracted from a timetable or
// edited by the user. Day is a weekday name (case-insensitive) and Time is
// an "HH:MM-HH:MM" 24h range. Location may be empty.
type Entry struct {
	Day      string `json:"day" yaml:"day"`
	Time     string `json:"time" yaml:"time"`
	Subject  string `json:"subject" yaml:"subject"`
	Location string `json:"location" yaml:"location"`
}

// Occurrence represents a single concrete instance of a generated weekly
// event, normalized into the display timezone.
type Occurrence struct {
	UID string

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time
}
