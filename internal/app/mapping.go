package app

import (
	"fmt"
	"strings"

	"cronkeeper/internal/agent"
	"cronkeeper/internal/config"
	"cronkeeper/internal/invoke"
	"cronkeeper/internal/registry"
	"cronkeeper/internal/storage"
	logx "cronkeeper/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	d, err := cfg.Durations()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: d.BusyTimeout,
	}, nil
}

func mapAgent(cfg *config.Config) agent.Config {
	return agent.Config{
		Enabled:    cfg.Agent.Enabled,
		Trigger:    cfg.Agent.Trigger,
		Budget:     cfg.Agent.Budget,
		RatePerSec: cfg.Agent.RatePerSec,
	}
}

func mapBreaker(cfg *config.Config, d config.Durations) invoke.BreakerConfig {
	return invoke.BreakerConfig{
		Trip:       cfg.Breaker.TripFailures,
		BaseDelay:  d.BreakerBase,
		MaxDelay:   d.BreakerMax,
		ResetAfter: d.BreakerReset,
	}
}

func mapDefinitions(cfg *config.Config) []registry.Definition {
	out := make([]registry.Definition, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		out = append(out, registry.Definition{Target: j.Target, Handler: j.Handler, Cron: j.Cron})
	}
	return out
}

// validate covers what config.Validate cannot check on its own: the agent
// trigger syntax.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := agent.ParseTrigger(cfg.Agent.Trigger); err != nil {
		return fmt.Errorf("agent.trigger: %w", err)
	}
	return nil
}
