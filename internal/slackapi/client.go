// Package slackapi reads the three Slack signals the presence finder needs:
// the user's profile (status text, emoji, huddle state), their DND/snooze
// setting and their coarse presence.
package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// ErrMissingField is wrapped when a response lacks a field the finder
// depends on.
var ErrMissingField = errors.New("slackapi: missing field in response")

// HuddleUnset is the huddle_state value Slack reports outside a huddle.
const HuddleUnset = "default_unset"

// PresenceAway is the presence value for an away user.
const PresenceAway = "away"

// Profile is the subset of users.info the finder reads.
type Profile struct {
	StatusText  string
	StatusEmoji string
	// HuddleState is nil when Slack omits the field.
	HuddleState *string
}

// DND is the subset of dnd.info the finder reads.
type DND struct {
	SnoozeEnabled bool
}

// Presence is the coarse users.getPresence value ("active" or "away").
type Presence struct {
	Presence string
}

// Client talks to the Slack Web API with a bot or user token.
type Client struct {
	api        *slack.Client
	httpClient *http.Client
	apiURL     string
	token      string
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIURL points the client at a different Web API base URL (it must end
// in "/"), e.g. an httptest server.
func WithAPIURL(u string) Option {
	return func(c *Client) {
		c.apiURL = u
	}
}

// WithHTTPClient sets the HTTP client used for every call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New builds a Client. It performs no network I/O.
func New(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     slack.APIURL,
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !strings.HasSuffix(c.apiURL, "/") {
		c.apiURL += "/"
	}
	c.api = slack.New(token,
		slack.OptionAPIURL(c.apiURL),
		slack.OptionHTTPClient(c.httpClient),
	)
	return c
}

type usersInfoResponse struct {
	slack.SlackResponse
	User *struct {
		Profile *struct {
			StatusText  string  `json:"status_text"`
			StatusEmoji string  `json:"status_emoji"`
			HuddleState *string `json:"huddle_state"`
		} `json:"profile"`
	} `json:"user"`
}

// UserProfile calls users.info. It is decoded by hand because huddle_state
// is not part of slack.UserProfile.
func (c *Client) UserProfile(ctx context.Context, userID string) (Profile, error) {
	var resp usersInfoResponse
	if err := c.call(ctx, "users.info", url.Values{"user": {userID}}, &resp); err != nil {
		return Profile{}, err
	}
	if resp.User == nil || resp.User.Profile == nil {
		return Profile{}, fmt.Errorf("%w: users.info user.profile", ErrMissingField)
	}
	p := resp.User.Profile
	return Profile{
		StatusText:  p.StatusText,
		StatusEmoji: p.StatusEmoji,
		HuddleState: p.HuddleState,
	}, nil
}

type dndInfoResponse struct {
	slack.SlackResponse
	SnoozeEnabled *bool `json:"snooze_enabled"`
}

// DNDInfo calls dnd.info. A response without snooze_enabled is an error
// rather than an implicit false.
func (c *Client) DNDInfo(ctx context.Context, userID string) (DND, error) {
	var resp dndInfoResponse
	if err := c.call(ctx, "dnd.info", url.Values{"user": {userID}}, &resp); err != nil {
		return DND{}, err
	}
	if resp.SnoozeEnabled == nil {
		return DND{}, fmt.Errorf("%w: dnd.info snooze_enabled", ErrMissingField)
	}
	return DND{SnoozeEnabled: *resp.SnoozeEnabled}, nil
}

// Presence calls users.getPresence.
func (c *Client) Presence(ctx context.Context, userID string) (Presence, error) {
	p, err := c.api.GetUserPresenceContext(ctx, userID)
	if err != nil {
		return Presence{}, fmt.Errorf("slackapi: users.getPresence: %w", err)
	}
	if p.Presence == "" {
		return Presence{}, fmt.Errorf("%w: users.getPresence presence", ErrMissingField)
	}
	return Presence{Presence: p.Presence}, nil
}

type apiResponse interface {
	Err() error
}

func (c *Client) call(ctx context.Context, method string, values url.Values, out apiResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+method, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slackapi: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("slackapi: %s: %w", method, slack.StatusCodeError{Code: resp.StatusCode, Status: resp.Status})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("slackapi: %s: decode: %w", method, err)
	}
	if err := out.Err(); err != nil {
		return fmt.Errorf("slackapi: %s: %w", method, err)
	}
	return nil
}
