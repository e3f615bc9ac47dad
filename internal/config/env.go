package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the config file. Secrets belong here
// rather than in a file that may be committed.
const (
	EnvTelegramToken = "CRONKEEPER_TELEGRAM_TOKEN"
	EnvHTTPAddr      = "CRONKEEPER_HTTP_ADDR"
	EnvHTTPToken     = "CRONKEEPER_HTTP_TOKEN"
	EnvLogLevel      = "CRONKEEPER_LOG_LEVEL"
	EnvStoragePath   = "CRONKEEPER_STORAGE_PATH"
	EnvLogChatID     = "CRONKEEPER_LOG_CHAT_ID"
)

// Env is a snapshot of override variables.
type Env map[string]string

// LoadEnv reads dotenv files (missing files are skipped) and overlays the
// process environment, which wins on conflicts.
func LoadEnv(files ...string) (Env, error) {
	env := Env{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for k, v := range vals {
			env[k] = v
		}
	}
	for _, k := range []string{EnvTelegramToken, EnvHTTPAddr, EnvHTTPToken, EnvLogLevel, EnvStoragePath, EnvLogChatID} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

func (e Env) get(key string) (string, bool) {
	v, ok := e[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Apply overwrites config fields with any set override.
func (e Env) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if v, ok := e.get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := e.get(EnvHTTPAddr); ok {
		cfg.HTTP.Addr = v
	}
	if v, ok := e.get(EnvHTTPToken); ok {
		cfg.HTTP.Token = v
	}
	if v, ok := e.get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := e.get(EnvStoragePath); ok {
		cfg.Storage.Path = v
	}
	if v, ok := e.get(EnvLogChatID); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Logging.Telegram.ChatID = id
		}
	}
}
