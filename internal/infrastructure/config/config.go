package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "SIMCTL_"

type Config struct {
	Addr            string `yaml:"addr"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	DevMode         bool   `yaml:"dev_mode"`
	CORSAllowOrigin string `yaml:"cors_allow_origin"`
	// APIToken, when set, is required as a bearer token on /api/v1 routes.
	APIToken string `yaml:"api_token"`

	// State backend: "sqlite" (durable) or "memory".
	StateBackend string `yaml:"state_backend"`
	DBPath       string `yaml:"db_path"`
	HistoryMax   int    `yaml:"history_max"`
	// AutoRestore resumes a persisted session when serve starts.
	AutoRestore bool `yaml:"auto_restore"`

	// Connectivity toggler: "adb" or "none".
	Toggler   string `yaml:"toggler"`
	ADBPath   string `yaml:"adb_path"`
	ADBSerial string `yaml:"adb_serial"`
	// AirplaneModeDelayMs is the settle delay after each toggle.
	AirplaneModeDelayMs int    `yaml:"airplane_mode_delay_ms"`
	IdentityURL         string `yaml:"identity_url"`
	IdentityTimeoutSec  int    `yaml:"identity_timeout_sec"`

	HTTPTimeoutSec     int `yaml:"http_timeout_sec"`
	RequestTimeoutSec  int `yaml:"request_timeout_sec"`
	BehaviorMaxWaitSec int `yaml:"behavior_max_wait_sec"`
	FailureBackoffMs   int `yaml:"failure_backoff_ms"`
	RetryLimit         int `yaml:"retry_limit"`
	CheckpointEvery    int `yaml:"checkpoint_every"`

	// Server is the base URL client subcommands talk to.
	Server string `yaml:"server"`
}

func Default() Config {
	return Config{
		Addr:                ":9092",
		LogLevel:            "info",
		LogFormat:           "json",
		CORSAllowOrigin:     "*",
		StateBackend:        "sqlite",
		DBPath:              "data/simctl.db",
		HistoryMax:          100,
		Toggler:             "adb",
		ADBPath:             "adb",
		AirplaneModeDelayMs: 3000,
		IdentityURL:         "https://api.ipify.org",
		IdentityTimeoutSec:  10,
		HTTPTimeoutSec:      30,
		RequestTimeoutSec:   120,
		BehaviorMaxWaitSec:  30,
		FailureBackoffMs:    1000,
		Server:              "http://127.0.0.1:9092",
	}
}

// Load layers defaults, the YAML file named by SIMCTL_CONFIG (or path, when
// non-empty) and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.StateBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("state_backend must be sqlite or memory (got %q)", c.StateBackend)
	}
	switch c.Toggler {
	case "adb", "none":
	default:
		return fmt.Errorf("toggler must be adb or none (got %q)", c.Toggler)
	}
	if c.StateBackend == "sqlite" && strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path is required for the sqlite backend")
	}
	if c.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request_timeout_sec must be > 0")
	}
	return nil
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Logging returns the logger level and format. Dev mode always logs debug
// lines to the console.
func (c Config) Logging() (level, format string) {
	if c.DevMode {
		return "debug", "console"
	}
	return c.LogLevel, c.LogFormat
}

func (c Config) HTTPTimeout() time.Duration { return time.Duration(c.HTTPTimeoutSec) * time.Second }

func (c Config) IdentityTimeout() time.Duration {
	return time.Duration(c.IdentityTimeoutSec) * time.Second
}

func (c Config) BehaviorMaxWait() time.Duration {
	return time.Duration(c.BehaviorMaxWaitSec) * time.Second
}

func (c Config) FailureBackoff() time.Duration {
	return time.Duration(c.FailureBackoffMs) * time.Millisecond
}

func (c Config) AirplaneModeDelay() time.Duration {
	return time.Duration(c.AirplaneModeDelayMs) * time.Millisecond
}

func applyEnv(cfg *Config) {
	cfg.Addr = getEnv("ADDR", cfg.Addr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.DevMode = getEnvBool("DEV_MODE", cfg.DevMode)
	cfg.CORSAllowOrigin = getEnv("CORS_ALLOW_ORIGIN", cfg.CORSAllowOrigin)
	cfg.APIToken = getEnv("API_TOKEN", cfg.APIToken)
	cfg.StateBackend = strings.ToLower(getEnv("STATE_BACKEND", cfg.StateBackend))
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.HistoryMax = getEnvInt("HISTORY_MAX", cfg.HistoryMax)
	cfg.AutoRestore = getEnvBool("AUTO_RESTORE", cfg.AutoRestore)
	cfg.Toggler = strings.ToLower(getEnv("TOGGLER", cfg.Toggler))
	cfg.ADBPath = getEnv("ADB_PATH", cfg.ADBPath)
	cfg.ADBSerial = getEnv("ADB_SERIAL", cfg.ADBSerial)
	cfg.AirplaneModeDelayMs = getEnvInt("AIRPLANE_MODE_DELAY_MS", cfg.AirplaneModeDelayMs)
	cfg.IdentityURL = getEnv("IDENTITY_URL", cfg.IdentityURL)
	cfg.IdentityTimeoutSec = getEnvInt("IDENTITY_TIMEOUT_SEC", cfg.IdentityTimeoutSec)
	cfg.HTTPTimeoutSec = getEnvInt("HTTP_TIMEOUT_SEC", cfg.HTTPTimeoutSec)
	cfg.RequestTimeoutSec = getEnvInt("REQUEST_TIMEOUT_SEC", cfg.RequestTimeoutSec)
	cfg.BehaviorMaxWaitSec = getEnvInt("BEHAVIOR_MAX_WAIT_SEC", cfg.BehaviorMaxWaitSec)
	cfg.FailureBackoffMs = getEnvInt("FAILURE_BACKOFF_MS", cfg.FailureBackoffMs)
	cfg.RetryLimit = getEnvInt("RETRY_LIMIT", cfg.RetryLimit)
	cfg.CheckpointEvery = getEnvInt("CHECKPOINT_EVERY", cfg.CheckpointEvery)
	cfg.Server = getEnv("SERVER", cfg.Server)
}

func getEnv(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(envPrefix + key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}
