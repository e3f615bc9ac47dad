package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"cronkeeper/internal/crontab"
)

// Trigger is a parsed agent trigger.
type Trigger struct {
	Schedule cron.Schedule
	// Source is "crontab", "cron" (descriptor or seconds field) or
	// "interval".
	Source string
	Every  time.Duration
}

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

	// descriptors and 6-field specs with seconds
	robfigParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseTrigger accepts:
//   - a 5-field cron expression: "*/5 * * * *"
//   - a descriptor or 6-field expression: "@hourly", "@every 15s", "*/10 * * * * *"
//   - an interval: "15s", "2m", or HH:MM such as "00:05"
//
// "cron:" and "every:" prefixes force the respective form.
func ParseTrigger(raw string) (Trigger, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, fmt.Errorf("trigger required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	default:
		return parseInterval(s)
	}
}

func parseCron(expr string) (Trigger, error) {
	if expr == "" {
		return Trigger{}, fmt.Errorf("cron trigger required")
	}
	if !strings.HasPrefix(expr, "@") && len(strings.Fields(expr)) == 5 {
		spec, err := crontab.Compile(expr)
		if err != nil {
			return Trigger{}, fmt.Errorf("trigger %q: %w", expr, err)
		}
		return Trigger{Schedule: spec.Schedule(), Source: "crontab"}, nil
	}
	sch, err := robfigParser.Parse(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger %q: %w", expr, err)
	}
	t := Trigger{Schedule: sch, Source: "cron"}
	if c, ok := sch.(cron.ConstantDelaySchedule); ok {
		t.Every = c.Delay
	}
	return t, nil
}

func parseInterval(v string) (Trigger, error) {
	var (
		d   time.Duration
		err error
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Trigger{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else if d, err = time.ParseDuration(v); err != nil {
		return Trigger{}, fmt.Errorf("invalid trigger %q (use cron like '* * * * *', '@every 15s', HH:MM or a duration)", v)
	}
	if d <= 0 {
		return Trigger{}, fmt.Errorf("interval must be > 0")
	}
	// cron.Every rounds below one second up to one second.
	return Trigger{Schedule: cron.Every(d), Source: "interval", Every: d}, nil
}
