package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "bsstatus/internal/log"
)

// EnvSlackToken overrides slack.token when set.
const EnvSlackToken = "BSSTATUS_SLACK_TOKEN"

const (
	defaultListen    = "127.0.0.1:8080"
	defaultLogLevel  = "info"
	defaultPoll      = "@every 10s"
	defaultBusyRegex = `(?i)(:no_entry:|:red_circle:|busy|in a meeting)`
	defaultAwayRegex = `(?i)(:palm_tree:|:house:|away|out of office|ooo)`
)

// ICalConfig configures the calendar finder.
type ICalConfig struct {
	// URL is the ICS feed. Empty means no calendar is configured.
	URL string `yaml:"url" json:"url"`

	// IgnoreEventsMatchingAnyOfAll lists ignore rules. An event is ignored if
	// every field of any one rule equals the event's rendered property value.
	IgnoreEventsMatchingAnyOfAll []map[string]any `yaml:"ignore_events_matching_any_of_all" json:"ignore_events_matching_any_of_all"`
}

// SlackConfig configures the Slack presence finder.
type SlackConfig struct {
	Token  string `yaml:"token" json:"-"`
	UserID string `yaml:"user_id" json:"user_id"`

	// BusyRegex / AwayRegex are matched against "<emoji> <status text>",
	// anchored at the start only.
	BusyRegex string `yaml:"busy_regex" json:"busy_regex"`
	AwayRegex string `yaml:"away_regex" json:"away_regex"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for `bsstatus serve`.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Poll is a robfig/cron schedule (e.g. "@every 10s", "*/1 * * * *")
	// used by `bsstatus watch`.
	Poll string `yaml:"poll" json:"poll"`

	ICal  ICalConfig  `yaml:"ical" json:"ical"`
	Slack SlackConfig `yaml:"slack" json:"slack"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		LogLevel: defaultLogLevel,
		Poll:     defaultPoll,
		ICal: ICalConfig{
			IgnoreEventsMatchingAnyOfAll: []map[string]any{},
		},
		Slack: SlackConfig{
			BusyRegex: defaultBusyRegex,
			AwayRegex: defaultAwayRegex,
		},
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Poll == "" {
		c.Poll = defaultPoll
	}
	if c.ICal.IgnoreEventsMatchingAnyOfAll == nil {
		c.ICal.IgnoreEventsMatchingAnyOfAll = []map[string]any{}
	}
	if c.Slack.BusyRegex == "" {
		c.Slack.BusyRegex = defaultBusyRegex
	}
	if c.Slack.AwayRegex == "" {
		c.Slack.AwayRegex = defaultAwayRegex
	}
}

// Validate reports configuration mistakes that would otherwise surface only
// when a finder or the scheduler first runs.
func (c *Config) Validate() error {
	var errs []error

	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.Poll); err != nil {
		errs = append(errs, fmt.Errorf("poll %q: %w", c.Poll, err))
	}
	for i, rule := range c.ICal.IgnoreEventsMatchingAnyOfAll {
		// An empty rule would ignore every event.
		if len(rule) == 0 {
			errs = append(errs, fmt.Errorf("ical.ignore_events_matching_any_of_all[%d]: rule has no fields", i))
		}
	}
	if _, err := regexp.Compile(c.Slack.BusyRegex); err != nil {
		errs = append(errs, fmt.Errorf("slack.busy_regex: %w", err))
	}
	if _, err := regexp.Compile(c.Slack.AwayRegex); err != nil {
		errs = append(errs, fmt.Errorf("slack.away_regex: %w", err))
	}
	if c.Slack.Token != "" && c.Slack.UserID == "" {
		appLog.Info("slack token set without user_id; slack finder will report unknown")
	}

	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
//
// In both cases BSSTATUS_SLACK_TOKEN, when set, replaces slack.token.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if tok := os.Getenv(EnvSlackToken); tok != "" {
		cfg.Slack.Token = tok
	}
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".bsstatus-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
