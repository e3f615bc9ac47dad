package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Registry RegistryConfig `json:"registry"`
	Storage  StorageConfig  `json:"storage"`
	Agent    AgentConfig    `json:"agent"`
	HTTP     HTTPConfig     `json:"http"`
	Telegram TelegramConfig `json:"telegram"`
	Systemd  SystemdConfig  `json:"systemd"`
	Breaker  BreakerConfig  `json:"breaker"`

	// Jobs are created once, on the first start with an empty store.
	// Later edits go through the HTTP API.
	Jobs []JobConfig `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to a chat.
// Requires telegram.enabled.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type RegistryConfig struct {
	// MaxJobs caps active jobs. Default: 100.
	MaxJobs int `json:"max_jobs,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/cronkeeper.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// AgentConfig controls the built-in poll/execute trigger.
//
// Defaults (when fields are omitted/zero):
//   - trigger: "* * * * *"
//   - budget: 4
//   - rate_per_sec: 10
//   - invoke_timeout: "30s"
type AgentConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger is a 5-field cron expression, "@every <duration>" or a bare
	// duration such as "15s".
	Trigger       string `json:"trigger,omitempty"`
	Budget        int    `json:"budget,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	InvokeTimeout string `json:"invoke_timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8085"
	// Token, when set, is required as a bearer token on every route but
	// /healthz. Never logged.
	Token string `json:"token,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

type SystemdConfig struct {
	Enabled bool `json:"enabled"`
	// Units limits which units systemd:<unit> targets may control.
	// Empty allows any unit.
	Units []string `json:"units,omitempty"`
}

// BreakerConfig guards targets that keep failing: after trip_failures
// consecutive failures calls fail fast for base_delay, doubling up to
// max_delay. trip_failures < 0 disables it.
type BreakerConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"` // default 5
	BaseDelay    string `json:"base_delay,omitempty"`    // default "5s"
	MaxDelay     string `json:"max_delay,omitempty"`     // default "2m"
	ResetAfter   string `json:"reset_after,omitempty"`   // default "5m"
}

type JobConfig struct {
	Target  string `json:"target"`
	Handler string `json:"handler,omitempty"`
	Cron    string `json:"cron"`
}
