package config

import (
	"errors"
	"fmt"
	"strings"

	"cronkeeper/internal/crontab"
)

const (
	DefaultTrigger          = "* * * * *"
	DefaultBudget           = 4
	DefaultRatePerSec       = 10
	defaultInvokeTimeoutRaw = "30s"
	DefaultHTTPAddr         = "127.0.0.1:8085"
	DefaultMaxJobs          = 100
)

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Registry.MaxJobs <= 0 {
		c.Registry.MaxJobs = DefaultMaxJobs
	}
	if strings.TrimSpace(c.Agent.Trigger) == "" {
		c.Agent.Trigger = DefaultTrigger
	}
	if c.Agent.Budget <= 0 {
		c.Agent.Budget = DefaultBudget
	}
	if c.Agent.RatePerSec <= 0 {
		c.Agent.RatePerSec = DefaultRatePerSec
	}
	if strings.TrimSpace(c.Agent.InvokeTimeout) == "" {
		c.Agent.InvokeTimeout = defaultInvokeTimeoutRaw
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

// Validate checks fields that can be checked without other packages.
// The agent trigger is validated by the app, which owns its parser.
func (c *Config) Validate() error {
	var errs []error
	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", d))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	if _, err := c.Durations(); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required when telegram.enabled (or set CRONKEEPER_TELEGRAM_TOKEN)"))
	}
	if c.Logging.Telegram.Enabled {
		if !c.Telegram.Enabled {
			errs = append(errs, errors.New("logging.telegram requires telegram.enabled"))
		}
		if c.Logging.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("logging.telegram.chat_id is required"))
		}
	}
	for i, j := range c.Jobs {
		if strings.TrimSpace(j.Target) == "" {
			errs = append(errs, fmt.Errorf("jobs[%d].target is required", i))
		}
		if _, err := crontab.Compile(j.Cron); err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d].cron: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
