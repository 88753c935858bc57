package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "bsstatus/internal/log"
)

// ErrEmptyBody is returned by Parse for a zero-length document.
var ErrEmptyBody = errors.New("ics: empty body")

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	UID string
	Seq int

	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	RDates     []time.Time
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT is an override for a recurring instance

	// Fields holds every property rendered to text, keyed by upper-case name.
	Fields map[string]string
}

// Parse parses a single ICS payload into a list of ParsedEvent.
//
// A document the library cannot parse, or a VEVENT without a usable
// DTSTART, fails the whole parse. No partial result is returned.
func Parse(body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics parse: %w", err)
	}

	events := make([]ParsedEvent, 0)
	for i, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			return nil, fmt.Errorf("ics parse: vevent %d: %w", i, perr)
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	out.Fields = renderFields(ve.Properties)

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}

	// SEQUENCE (optional, used for overrides/versioning)
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("missing DTSTART (uid %q)", out.UID)
	}
	start, allDay, err := parseDateTime(dtStart.Value, dtStart.ICalParameters)
	if err != nil {
		return out, fmt.Errorf("DTSTART (uid %q): %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = allDay

	end, err := eventEnd(ve, start, allDay)
	if err != nil {
		return out, fmt.Errorf("end (uid %q): %w", out.UID, err)
	}
	out.End = end

	// RRULE is kept raw for expand.go, but must parse now.
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		if _, err := rrule.StrToRRule(p.Value); err != nil {
			return out, fmt.Errorf("RRULE (uid %q): %w", out.UID, err)
		}
		out.RawRRule = p.Value
	}

	out.ExDates, err = parseDateList(ve.GetProperties(ical.ComponentPropertyExdate))
	if err != nil {
		return out, fmt.Errorf("EXDATE (uid %q): %w", out.UID, err)
	}
	out.RDates, err = parseDateList(ve.GetProperties(ical.ComponentProperty("RDATE")))
	if err != nil {
		return out, fmt.Errorf("RDATE (uid %q): %w", out.UID, err)
	}

	// RECURRENCE-ID (overridden instance)
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		t, _, err := parseDateTime(p.Value, p.ICalParameters)
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID (uid %q): %w", out.UID, err)
		}
		out.Recurrence = &t
		out.IsOverride = true
	}

	return out, nil
}

// eventEnd resolves DTEND, falling back to DURATION and then to the RFC 5545
// defaults: one day for all-day events, zero length otherwise.
func eventEnd(ve *ical.VEvent, start time.Time, allDay bool) (time.Time, error) {
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		end, _, err := parseDateTime(p.Value, p.ICalParameters)
		if err != nil {
			return time.Time{}, err
		}
		return end, nil
	}
	if p := ve.GetProperty(ical.ComponentProperty("DURATION")); p != nil {
		d, err := parseDuration(p.Value)
		if err != nil {
			return time.Time{}, err
		}
		return start.Add(d), nil
	}
	if allDay {
		return start.AddDate(0, 0, 1), nil
	}
	return start, nil
}

// parseDateTime parses a DATE or DATE-TIME value honoring VALUE=DATE and
// TZID parameters. Floating times and unknown TZIDs are read in time.Local.
func parseDateTime(v string, params map[string][]string) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if isDateValue(v, params) {
		t, err := time.ParseInLocation("20060102", v, time.Local)
		return t, true, err
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	loc := time.Local
	if tzid := firstParam(params, "TZID"); tzid != "" {
		if l, err := time.LoadLocation(strings.Trim(tzid, `"`)); err == nil {
			loc = l
		} else {
			appLog.Debug("ics unknown TZID; using local time", "tzid", tzid)
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

func isDateValue(v string, params map[string][]string) bool {
	if strings.EqualFold(firstParam(params, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(v, "T")
}

func firstParam(params map[string][]string, name string) string {
	if params == nil {
		return ""
	}
	if vs, ok := params[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseDateList parses EXDATE/RDATE properties, each of which may carry a
// comma-separated list. RDATE;VALUE=PERIOD entries keep their start only.
func parseDateList(props []*ical.IANAProperty) ([]time.Time, error) {
	var out []time.Time
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if i := strings.IndexByte(part, '/'); i >= 0 {
				part = part[:i]
			}
			t, _, err := parseDateTime(part, p.ICalParameters)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// parseDuration parses an RFC 5545 duration such as "PT1H30M", "P1D" or
// "P2W".
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var d time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		num = ""

		unit := time.Duration(n)
		switch {
		case r == 'W' && !inTime:
			d += unit * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			d += unit * 24 * time.Hour
		case r == 'H' && inTime:
			d += unit * time.Hour
		case r == 'M' && inTime:
			d += unit * time.Minute
		case r == 'S' && inTime:
			d += unit * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if neg {
		d = -d
	}
	return d, nil
}

// renderFields turns VEVENT properties into the canonical text form used by
// ignore rules: TEXT escapes are undone, and a property that appears more
// than once (ATTENDEE, CATEGORIES, ...) renders as its values joined with
// ",". Parameters are dropped. This is a lossy, string-only view on purpose:
// rule values from config are rendered to text the same way before
// comparison.
func renderFields(props []ical.IANAProperty) map[string]string {
	fields := make(map[string]string, len(props))
	for _, p := range props {
		name := strings.ToUpper(p.IANAToken)
		val := unescapeText(p.Value)
		if prev, ok := fields[name]; ok {
			fields[name] = prev + "," + val
			continue
		}
		fields[name] = val
	}
	return fields
}

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case '\\', ';', ',':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
