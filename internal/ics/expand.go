package ics

import (
	"errors"
	"math"
	"time"

	"github.com/teambition/rrule-go"

	appLog "bsstatus/internal/log"
	"bsstatus/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the window occurrences must overlap.
	// They may be equal, which selects the occurrences running at that instant.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences expands parsed events into the concrete occurrences that
// overlap the configured range. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence, plus RDATE additions
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides (the override replaces the original instance)
//   - All-day semantics
//
// An occurrence that started before RangeStart but has not yet ended is
// included.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	var uids []string

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	allOccurrences := make([]model.Occurrence, 0)

	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			allOccurrences = append(allOccurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	// Overrides stand on their own: a moved instance is judged by its new
	// start/end, not by the slot it replaced.
	for _, ev := range events {
		if !ev.IsOverride || ev.Recurrence == nil {
			continue
		}
		if overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
			allOccurrences = append(allOccurrences, makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation))
		}
	}

	result.Occurrences = allOccurrences
	return result, nil
}

// ActiveAt returns the occurrences in progress at instant now, converted to
// loc (time.Local when nil).
func ActiveAt(events []ParsedEvent, now time.Time, loc *time.Location) ([]model.Occurrence, error) {
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      now,
		RangeEnd:        now,
	})
	if err != nil {
		return nil, err
	}

	active := make([]model.Occurrence, 0, len(res.Occurrences))
	for _, occ := range res.Occurrences {
		if occ.ActiveAt(now) {
			active = append(active, occ)
		}
	}
	return active, nil
}

// expandEvent expands a single base event, returning occurrences and whether
// the cap was hit.
func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" && len(ev.RDates) == 0 {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if hasOverrideForStart(overrides, ev.Start) {
		return nil
	}
	if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	var set rrule.Set

	if ev.RawRRule != "" {
		r, err := rrule.StrToRRule(ev.RawRRule)
		if err != nil {
			appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
			return out, false
		}
		r.DTStart(ev.Start)
		set.RRule(r)
	} else {
		// RDATE-only events still occur at DTSTART.
		set.RDate(ev.Start)
	}

	for _, rd := range ev.RDates {
		set.RDate(rd.In(ev.Start.Location()))
	}
	for _, ex := range ev.ExDates {
		// Best effort: align EXDATE location with event's start.
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}
	allDayDays := int(math.Round(dur.Hours() / 24))
	if allDayDays < 1 {
		allDayDays = 1
	}

	// Widen the lower bound by the event length so an instance that started
	// earlier and is still running is found.
	lookback := dur
	if ev.AllDay {
		lookback = time.Duration(allDayDays) * 25 * time.Hour
	}
	rangeStart := cfg.RangeStart.Add(-lookback).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)

	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		if hasOverrideForStart(overrides, occStart) {
			continue
		}

		var occEnd time.Time
		if ev.AllDay {
			// All-day: [date 00:00, date+N 00:00) in event's timezone.
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.AddDate(0, 0, allDayDays)
		} else {
			occEnd = occStart.Add(dur)
		}

		if !overlaps(occStart, occEnd, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(ev, occStart, occEnd, cfg.DisplayLocation))
	}

	return out, hitCap
}

// hasOverrideForStart reports whether an override's RECURRENCE-ID equals
// the given instance start.
func hasOverrideForStart(overrides []ParsedEvent, start time.Time) bool {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return true
		}
	}
	return false
}

// makeOccurrence converts a ParsedEvent + specific start/end time into a
// model.Occurrence normalized into displayLoc.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	startLocal := start.In(displayLoc)
	endLocal := end.In(displayLoc)

	return model.Occurrence{
		UID:         ev.UID,
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
		Fields:      ev.Fields,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd]. A
// zero-length a counts when its single instant lies in [bStart, bEnd].
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && !aStart.After(bEnd)
	}
	return !aStart.After(bEnd) && aEnd.After(bStart)
}
