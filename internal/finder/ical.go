package finder

import (
	"context"
	"time"

	"bsstatus/internal/cache"
	"bsstatus/internal/config"
	"bsstatus/internal/ics"
	appLog "bsstatus/internal/log"
	"bsstatus/internal/model"
	"bsstatus/internal/status"
)

// CalendarTTL is how long a fetched calendar document is reused.
const CalendarTTL = 5 * time.Minute

// CalendarFetcher downloads a calendar document. *ics.Fetcher implements it.
type CalendarFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ICalFinder reports Busy while an event that is not ignored is running.
type ICalFinder struct {
	cfg     config.ICalConfig
	rules   []ics.IgnoreRule
	fetcher CalendarFetcher
	now     func() time.Time

	calendar *cache.TTL[[]ics.ParsedEvent]
}

// ICalOption customizes an ICalFinder.
type ICalOption func(*ICalFinder)

// WithCalendarFetcher replaces the default HTTP fetcher.
func WithCalendarFetcher(f CalendarFetcher) ICalOption {
	return func(i *ICalFinder) {
		i.fetcher = f
	}
}

// WithICalClock sets the clock used both for "now" and for cache ages.
func WithICalClock(now func() time.Time) ICalOption {
	return func(i *ICalFinder) {
		i.now = now
	}
}

// NewICalFinder builds the finder. Nothing is fetched until Status is called.
func NewICalFinder(cfg config.ICalConfig, opts ...ICalOption) *ICalFinder {
	f := &ICalFinder{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.fetcher == nil {
		f.fetcher = ics.NewFetcher(nil)
	}
	f.rules = make([]ics.IgnoreRule, 0, len(cfg.IgnoreEventsMatchingAnyOfAll))
	for _, r := range cfg.IgnoreEventsMatchingAnyOfAll {
		f.rules = append(f.rules, ics.NewIgnoreRule(r))
	}
	f.calendar = cache.NewTTL[[]ics.ParsedEvent](CalendarTTL, f.now)
	return f
}

func (f *ICalFinder) Name() string { return "ical" }

// Status resolves the calendar to Busy, Available or Unknown (no URL).
func (f *ICalFinder) Status(ctx context.Context) (status.Status, error) {
	if f.cfg.URL == "" {
		appLog.Debug("No idea what the status is since no ical url was given.")
		return status.Unknown, nil
	}

	events, err := f.CurrentEvents(ctx)
	if err != nil {
		return status.Unknown, err
	}
	if len(events) > 0 {
		appLog.Debug("According to our calendar, we're in an event.", "count", len(events))
		return status.Busy, nil
	}

	appLog.Debug("According to our calendar, we're not in an event.")
	return status.Available, nil
}

// CurrentEvents returns the occurrences running at "now" in local time,
// minus the ignored ones. An unconfigured finder has none.
func (f *ICalFinder) CurrentEvents(ctx context.Context) ([]model.Occurrence, error) {
	if f.cfg.URL == "" {
		return nil, nil
	}

	events, err := f.calendar.Get(ctx, f.fetchCalendar)
	if err != nil {
		return nil, err
	}

	now := f.now().In(time.Local)
	active, err := ics.ActiveAt(events, now, time.Local)
	if err != nil {
		return nil, err
	}

	current := make([]model.Occurrence, 0, len(active))
	for _, occ := range active {
		if i := ics.MatchAny(f.rules, occ); i >= 0 {
			appLog.Debug("Ignoring event due to ignore rule.", "name", occ.Summary, "rule", f.rules[i].String())
			continue
		}
		appLog.Debug("Current event", "name", occ.Summary, "start", occ.Start.Format(time.RFC3339), "end", occ.End.Format(time.RFC3339))
		current = append(current, occ)
	}
	return current, nil
}

func (f *ICalFinder) fetchCalendar(ctx context.Context) ([]ics.ParsedEvent, error) {
	body, err := f.fetcher.Fetch(ctx, f.cfg.URL)
	if err != nil {
		return nil, err
	}
	return ics.Parse(body)
}
