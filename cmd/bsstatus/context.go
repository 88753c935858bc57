package main

import (
	"fmt"
	"os"
	"path/filepath"

	"bsstatus/internal/config"
	"bsstatus/internal/finder"
	appLog "bsstatus/internal/log"
	"bsstatus/internal/status"
)

type commandContext struct {
	configFlag *string
	debugFlag  *bool

	config *config.Config
}

func newCommandContext(configFlag *string, debugFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, debugFlag: debugFlag}
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "bsstatus", "config.yaml")
	}
	return "bsstatus.yaml"
}

// ensureConfig loads the config once and applies the log level.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}

	cfg, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level, err := appLog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if c.debugFlag != nil && *c.debugFlag {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	c.config = cfg
	return cfg, nil
}

// buildFinders constructs every finder in reporting order. Unconfigured
// sources are still included; they report unknown.
func buildFinders(cfg *config.Config) ([]status.Finder, error) {
	slackFinder, err := finder.NewSlackFinder(cfg.Slack)
	if err != nil {
		return nil, err
	}
	return []status.Finder{
		finder.NewICalFinder(cfg.ICal),
		slackFinder,
	}, nil
}
