package finder

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"bsstatus/internal/cache"
	"bsstatus/internal/config"
	appLog "bsstatus/internal/log"
	"bsstatus/internal/slackapi"
	"bsstatus/internal/status"
)

// SignalTTL is how long each Slack signal is reused.
const SignalTTL = 5 * time.Second

// SlackAPI is the read side of Slack the finder needs. *slackapi.Client
// implements it.
type SlackAPI interface {
	UserProfile(ctx context.Context, userID string) (slackapi.Profile, error)
	DNDInfo(ctx context.Context, userID string) (slackapi.DND, error)
	Presence(ctx context.Context, userID string) (slackapi.Presence, error)
}

// SlackFinder combines profile, DND and presence into one status.
type SlackFinder struct {
	cfg    config.SlackConfig
	client SlackAPI

	busy *regexp.Regexp
	away *regexp.Regexp

	profile  *cache.TTL[slackapi.Profile]
	dnd      *cache.TTL[slackapi.DND]
	presence *cache.TTL[slackapi.Presence]
}

// SlackOption customizes a SlackFinder.
type SlackOption func(*slackOptions)

type slackOptions struct {
	client SlackAPI
	now    func() time.Time
}

// WithSlackClient replaces the client otherwise built from the token.
func WithSlackClient(c SlackAPI) SlackOption {
	return func(o *slackOptions) {
		o.client = c
	}
}

// WithSlackClock sets the clock used for cache ages.
func WithSlackClock(now func() time.Time) SlackOption {
	return func(o *slackOptions) {
		o.now = now
	}
}

// NewSlackFinder compiles the status patterns and, when a token is
// configured, builds the Slack client. It performs no network I/O. An
// invalid pattern is returned as an error here rather than on first use.
func NewSlackFinder(cfg config.SlackConfig, opts ...SlackOption) (*SlackFinder, error) {
	var o slackOptions
	for _, opt := range opts {
		opt(&o)
	}

	busy, err := compilePrefix(cfg.BusyRegex)
	if err != nil {
		return nil, fmt.Errorf("slack busy_regex: %w", err)
	}
	away, err := compilePrefix(cfg.AwayRegex)
	if err != nil {
		return nil, fmt.Errorf("slack away_regex: %w", err)
	}

	f := &SlackFinder{
		cfg:      cfg,
		busy:     busy,
		away:     away,
		profile:  cache.NewTTL[slackapi.Profile](SignalTTL, o.now),
		dnd:      cache.NewTTL[slackapi.DND](SignalTTL, o.now),
		presence: cache.NewTTL[slackapi.Presence](SignalTTL, o.now),
	}
	switch {
	case o.client != nil:
		f.client = o.client
	case cfg.Token != "":
		f.client = slackapi.New(cfg.Token)
	}
	return f, nil
}

// compilePrefix compiles pattern so it only matches at the start of the
// input; text after a matching prefix is ignored. An empty pattern
// yields nil, which never matches.
func compilePrefix(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(`^(?:` + pattern + `)`)
}

func (f *SlackFinder) Name() string { return "slack" }

// Status walks the checks in order and returns on the first hit:
// huddle, DND, busy text, away text, away presence. With none it is
// Available. Without a token, user or client it is Unknown and no call is
// made.
func (f *SlackFinder) Status(ctx context.Context) (status.Status, error) {
	if f.cfg.Token == "" || f.cfg.UserID == "" || f.client == nil {
		appLog.Debug("No idea what the status is")
		return status.Unknown, nil
	}

	inHuddle, err := f.inHuddle(ctx)
	if err != nil {
		return status.Unknown, err
	}
	if inHuddle {
		appLog.Debug("User is in a huddle")
		return status.DoNotDisturb, nil
	}

	dnd, err := f.isDND(ctx)
	if err != nil {
		return status.Unknown, err
	}
	if dnd {
		appLog.Debug("User is in do not disturb mode")
		return status.DoNotDisturb, nil
	}

	text, err := f.statusText(ctx)
	if err != nil {
		return status.Unknown, err
	}
	if matches(f.busy, text) {
		appLog.Debug("User is busy according to status text", "text", text)
		return status.Busy, nil
	}
	if matches(f.away, text) {
		appLog.Debug("User is away according to status text", "text", text)
		return status.Away, nil
	}

	away, err := f.markedAway(ctx)
	if err != nil {
		return status.Unknown, err
	}
	if away {
		appLog.Debug("User is away according to presence")
		return status.Away, nil
	}

	appLog.Debug("User is available")
	return status.Available, nil
}

func matches(re *regexp.Regexp, s string) bool {
	return re != nil && re.MatchString(s)
}

func (f *SlackFinder) getProfile(ctx context.Context) (slackapi.Profile, error) {
	return f.profile.Get(ctx, func(ctx context.Context) (slackapi.Profile, error) {
		return f.client.UserProfile(ctx, f.cfg.UserID)
	})
}

func (f *SlackFinder) inHuddle(ctx context.Context) (bool, error) {
	p, err := f.getProfile(ctx)
	if err != nil {
		return false, err
	}
	return p.HuddleState != nil && *p.HuddleState != slackapi.HuddleUnset, nil
}

// statusText is "<emoji> <text>", each part trimmed, then trimmed again.
func (f *SlackFinder) statusText(ctx context.Context) (string, error) {
	p, err := f.getProfile(ctx)
	if err != nil {
		return "", err
	}
	return CombinedStatusText(p), nil
}

// CombinedStatusText renders a profile's emoji and text the way the status
// patterns see it.
func CombinedStatusText(p slackapi.Profile) string {
	return strings.TrimSpace(strings.TrimSpace(p.StatusEmoji) + " " + strings.TrimSpace(p.StatusText))
}

func (f *SlackFinder) isDND(ctx context.Context) (bool, error) {
	d, err := f.dnd.Get(ctx, func(ctx context.Context) (slackapi.DND, error) {
		return f.client.DNDInfo(ctx, f.cfg.UserID)
	})
	if err != nil {
		return false, err
	}
	return d.SnoozeEnabled, nil
}

func (f *SlackFinder) markedAway(ctx context.Context) (bool, error) {
	p, err := f.presence.Get(ctx, func(ctx context.Context) (slackapi.Presence, error) {
		return f.client.Presence(ctx, f.cfg.UserID)
	})
	if err != nil {
		return false, err
	}
	return p.Presence == slackapi.PresenceAway, nil
}
