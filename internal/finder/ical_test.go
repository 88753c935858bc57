package finder_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsstatus/internal/config"
	"bsstatus/internal/finder"
	"bsstatus/internal/ics"
	"bsstatus/internal/status"
)

const calendarURL = "https://calendar.example.com/basic.ics"

type stubFetcher struct {
	body  []byte
	err   error
	calls int
	urls  []string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	s.calls++
	s.urls = append(s.urls, url)
	return s.body, s.err
}

var workday = icsDoc(`BEGIN:VEVENT
UID:sync
SUMMARY:Team Sync
DTSTART:20250310T090000Z
DTEND:20250310T100000Z
END:VEVENT
`, `BEGIN:VEVENT
UID:focus
SUMMARY:Focus Time
TRANSP:TRANSPARENT
DTSTART:20250310T130000Z
DTEND:20250310T150000Z
END:VEVENT
`, `BEGIN:VEVENT
UID:lunch
SUMMARY:Lunch
DTSTART:20250310T120000Z
DTEND:20250310T130000Z
RRULE:FREQ=DAILY
END:VEVENT
`)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

func newICal(t *testing.T, cfg config.ICalConfig, fetcher *stubFetcher, now time.Time) (*finder.ICalFinder, *fakeClock) {
	t.Helper()
	clock := newFakeClock(now)
	return finder.NewICalFinder(cfg,
		finder.WithCalendarFetcher(fetcher),
		finder.WithICalClock(clock.Now),
	), clock
}

func TestICalNoURLIsUnknown(t *testing.T) {
	fetcher := &stubFetcher{body: workday}
	cfg := config.ICalConfig{
		IgnoreEventsMatchingAnyOfAll: []map[string]any{{"SUMMARY": "Team Sync"}},
	}

	for _, now := range []time.Time{at(9, 30), at(3, 0)} {
		f, _ := newICal(t, cfg, fetcher, now)
		got, err := f.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, status.Unknown, got)
	}
	assert.Equal(t, 0, fetcher.calls)
}

func TestICalBusyDuringEvent(t *testing.T) {
	fetcher := &stubFetcher{body: workday}
	f, _ := newICal(t, config.ICalConfig{URL: calendarURL}, fetcher, at(9, 30))

	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Busy, got)
	assert.Equal(t, []string{calendarURL}, fetcher.urls)
}

func TestICalAvailableOutsideEvents(t *testing.T) {
	fetcher := &stubFetcher{body: workday}
	f, _ := newICal(t, config.ICalConfig{URL: calendarURL}, fetcher, at(11, 0))

	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Available, got)
}

func TestICalRecurringEventIsBusy(t *testing.T) {
	fetcher := &stubFetcher{body: workday}
	f, _ := newICal(t, config.ICalConfig{URL: calendarURL}, fetcher, at(12, 30).AddDate(0, 0, 3))

	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Busy, got)
}

func TestICalIgnoreRulesAreExact(t *testing.T) {
	fetcher := &stubFetcher{body: workday}

	f, _ := newICal(t, config.ICalConfig{
		URL:                          calendarURL,
		IgnoreEventsMatchingAnyOfAll: []map[string]any{{"SUMMARY": "Focus Time"}},
	}, fetcher, at(14, 0))
	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Available, got)

	f, _ = newICal(t, config.ICalConfig{
		URL:                          calendarURL,
		IgnoreEventsMatchingAnyOfAll: []map[string]any{{"SUMMARY": "Focus"}},
	}, fetcher, at(14, 0))
	got, err = f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Busy, got)
}

func TestICalIgnoreRuleKeysIgnoreCase(t *testing.T) {
	fetcher := &stubFetcher{body: workday}
	f, _ := newICal(t, config.ICalConfig{
		URL:                          calendarURL,
		IgnoreEventsMatchingAnyOfAll: []map[string]any{{"summary": "Team Sync"}},
	}, fetcher, at(9, 30))

	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Available, got)
}

func TestICalIgnoreRuleFieldsAreANDed(t *testing.T) {
	fetcher := &stubFetcher{body: workday}
	cfg := config.ICalConfig{
		URL: calendarURL,
		IgnoreEventsMatchingAnyOfAll: []map[string]any{
			{"SUMMARY": "Focus Time", "TRANSP": "OPAQUE"},
			{"LOCATION": "Home"},
		},
	}

	f, _ := newICal(t, cfg, fetcher, at(14, 0))
	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Busy, got)

	cfg.IgnoreEventsMatchingAnyOfAll = append(cfg.IgnoreEventsMatchingAnyOfAll,
		map[string]any{"SUMMARY": "Focus Time", "TRANSP": "TRANSPARENT"})
	f, _ = newICal(t, cfg, fetcher, at(14, 0))
	got, err = f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Available, got)
}

func TestICalCachesCalendar(t *testing.T) {
	fetcher := &stubFetcher{body: workday}
	f, clock := newICal(t, config.ICalConfig{URL: calendarURL}, fetcher, at(8, 0))

	for i := 0; i < 3; i++ {
		_, err := f.Status(context.Background())
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	assert.Equal(t, 1, fetcher.calls)

	clock.Advance(2 * time.Minute) // 5 minutes since fetch
	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, status.Available, got)
}

func TestICalPropagatesFetchAndParseErrors(t *testing.T) {
	boom := errors.New("connection refused")
	f, _ := newICal(t, config.ICalConfig{URL: calendarURL}, &stubFetcher{err: boom}, at(9, 30))
	_, err := f.Status(context.Background())
	assert.ErrorIs(t, err, boom)

	f, _ = newICal(t, config.ICalConfig{URL: calendarURL}, &stubFetcher{body: []byte("   ")}, at(9, 30))
	_, err = f.Status(context.Background())
	assert.ErrorIs(t, err, ics.ErrEmptyBody)

	badRule := icsDoc(`BEGIN:VEVENT
UID:standup
SUMMARY:Standup
DTSTART:20250310T090000Z
DTEND:20250310T100000Z
RRULE:FREQ=BOGUS
END:VEVENT
`)
	f, _ = newICal(t, config.ICalConfig{URL: calendarURL}, &stubFetcher{body: badRule}, at(9, 30))
	got, err := f.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RRULE")
	assert.Equal(t, status.Unknown, got)
}

func TestICalFailedFetchIsRetried(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("timeout")}
	f, _ := newICal(t, config.ICalConfig{URL: calendarURL}, fetcher, at(9, 30))

	_, err := f.Status(context.Background())
	require.Error(t, err)

	fetcher.err = nil
	fetcher.body = workday
	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Busy, got)
	assert.Equal(t, 2, fetcher.calls)
}

func TestICalOverHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.ics" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(workday)
	}))
	defer srv.Close()

	clock := newFakeClock(at(9, 15))
	f := finder.NewICalFinder(config.ICalConfig{URL: srv.URL + "/basic.ics"}, finder.WithICalClock(clock.Now))
	assert.Equal(t, int32(0), hits.Load())

	got, err := f.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Busy, got)
	assert.Equal(t, int32(1), hits.Load())

	missing := finder.NewICalFinder(config.ICalConfig{URL: srv.URL + "/missing.ics"}, finder.WithICalClock(clock.Now))
	_, err = missing.Status(context.Background())
	assert.ErrorIs(t, err, ics.ErrHTTPStatus)
}

func TestICalCurrentEvents(t *testing.T) {
	fetcher := &stubFetcher{body: workday}
	f, _ := newICal(t, config.ICalConfig{URL: calendarURL}, fetcher, at(9, 45))

	events, err := f.CurrentEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Team Sync", events[0].Summary)
	assert.Equal(t, time.Local, events[0].Start.Location())
}
