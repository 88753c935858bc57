package model

import (
	"strings"
	"time"
)

// Occurrence represents a single concrete instance of a calendar event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	UID string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string

	Summary string
	AllDay  bool

	// Start / End are in the display timezone (normally time.Local).
	Start time.Time
	End   time.Time

	// Fields maps VEVENT property names (upper case, e.g. "SUMMARY",
	// "CATEGORIES") to their rendered text value. Ignore rules compare
	// against these strings.
	Fields map[string]string
}

// Field returns the rendered value of the named property and whether the
// event carries it at all. The name is matched case-insensitively.
func (o Occurrence) Field(name string) (string, bool) {
	v, ok := o.Fields[strings.ToUpper(name)]
	return v, ok
}

// ActiveAt reports whether instant t falls inside the occurrence. The
// interval is half-open [Start, End); a zero-length occurrence is active
// only at exactly Start.
func (o Occurrence) ActiveAt(t time.Time) bool {
	if !o.End.After(o.Start) {
		return t.Equal(o.Start)
	}
	return !t.Before(o.Start) && t.Before(o.End)
}
