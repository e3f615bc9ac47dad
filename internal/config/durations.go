package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBusyTimeout   = time.Second
	DefaultInvokeTimeout = 30 * time.Second
)

// Durations holds every duration field of a Config, parsed. Breaker fields
// stay zero when unset so the breaker applies its own defaults.
type Durations struct {
	BusyTimeout   time.Duration
	InvokeTimeout time.Duration
	BreakerBase   time.Duration
	BreakerMax    time.Duration
	BreakerReset  time.Duration
}

// Durations parses the duration fields and reports every bad one, keyed by
// its path in the file.
func (c *Config) Durations() (Durations, error) {
	var (
		d    Durations
		errs []error
	)
	for _, f := range []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"storage.busy_timeout", c.Storage.BusyTimeout, DefaultBusyTimeout, &d.BusyTimeout},
		{"agent.invoke_timeout", c.Agent.InvokeTimeout, DefaultInvokeTimeout, &d.InvokeTimeout},
		{"breaker.base_delay", c.Breaker.BaseDelay, 0, &d.BreakerBase},
		{"breaker.max_delay", c.Breaker.MaxDelay, 0, &d.BreakerMax},
		{"breaker.reset_after", c.Breaker.ResetAfter, 0, &d.BreakerReset},
	} {
		v, err := parseDuration(f.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.path, err))
			continue
		}
		if v == 0 {
			v = f.def
		}
		*f.dst = v
	}
	if d.BreakerBase > 0 && d.BreakerMax > 0 && d.BreakerMax < d.BreakerBase {
		errs = append(errs, fmt.Errorf("breaker.max_delay (%s) is below breaker.base_delay (%s)", d.BreakerMax, d.BreakerBase))
	}
	if err := errors.Join(errs...); err != nil {
		return Durations{}, err
	}
	return d, nil
}

// parseDuration accepts Go durations and a bare "0". Empty means unset.
func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "0" {
		return 0, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return v, nil
}
