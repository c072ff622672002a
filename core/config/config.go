package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds bot credentials and the update delivery mode.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file"`
	// Profile is "debug", "dev" or "prod"; debug and dev default to KV output.
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig throttles updates per user. IntervalMS 0 disables it.
// ExcludeUpdates lists update kinds ("callback", "message") that bypass it.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// StoreMemory keeps records in process memory.
	StoreMemory = "memory"
	// StorePostgres keeps records in the kv_records table.
	StorePostgres = "postgres"
)

// PostgresConfig holds connection settings for the postgres store backend.
type PostgresConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// StoreConfig selects the record store and its expiry behaviour.
type StoreConfig struct {
	Backend       string         `yaml:"backend" envconfig:"STORE_BACKEND"`
	Horizon       time.Duration  `yaml:"horizon" envconfig:"STORE_HORIZON"`
	PurgeInterval time.Duration  `yaml:"purge_interval" envconfig:"STORE_PURGE_INTERVAL"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

// RelayConfig tunes delivery retries and the response window.
type RelayConfig struct {
	ResponseTimeout time.Duration `yaml:"response_timeout" envconfig:"RELAY_RESPONSE_TIMEOUT"`
	SweepInterval   time.Duration `yaml:"sweep_interval" envconfig:"RELAY_SWEEP_INTERVAL"`
	BatchSize       int           `yaml:"batch_size" envconfig:"RELAY_BATCH_SIZE"`
	Pause           time.Duration `yaml:"pause" envconfig:"RELAY_PAUSE"`
	SendTimeout     time.Duration `yaml:"send_timeout" envconfig:"RELAY_SEND_TIMEOUT"`
	// MaxAttempts caps delivery attempts per request; 0 retries forever.
	MaxAttempts  int   `yaml:"max_attempts" envconfig:"RELAY_MAX_ATTEMPTS"`
	StartupCheck *bool `yaml:"startup_check" envconfig:"RELAY_STARTUP_CHECK"`
}

// StatusConfig configures the HTTP status endpoint. An empty Listen disables it.
type StatusConfig struct {
	Listen string `yaml:"listen" envconfig:"STATUS_LISTEN"`
}

// Config is the complete bot configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Store     StoreConfig     `yaml:"store"`
	Relay     RelayConfig     `yaml:"relay"`
	Status    StatusConfig    `yaml:"status"`
}

// Defaults applied by Normalize to zero values.
const (
	DefaultStoreHorizon    = 24 * time.Hour
	DefaultPurgeInterval   = 10 * time.Minute
	DefaultResponseTimeout = 30 * time.Minute
	DefaultSweepInterval   = 2 * time.Minute
	DefaultBatchSize       = 5
	DefaultPause           = time.Second
	DefaultSendTimeout     = 15 * time.Second
)

// ConfigError reports configuration that prevents the bot from starting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads the YAML file at path, overlays environment variables and
// normalizes the result.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults in place.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return invalid("config", "nil config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return invalid("telegram.token", "bot token is required")
	}
	if cfg.Telegram.AdminID == 0 {
		return invalid("telegram.admin_id", "admin id is required")
	}
	if err := normalizeRunMode(cfg); err != nil {
		return err
	}
	if err := normalizeRateLimit(&cfg.RateLimit); err != nil {
		return err
	}
	if err := normalizeStore(&cfg.Store); err != nil {
		return err
	}
	return normalizeRelay(&cfg.Relay)
}

func normalizeRunMode(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	switch rm {
	case "", "polling":
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return invalid("webhook.url", "required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return invalid("webhook.listen", "required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return invalid("webhook.port", "must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return invalid("telegram.longpoll_timeout_seconds", "must be >= 0")
		}
	default:
		return invalid("telegram.run_mode", "invalid value %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeRateLimit(rl *RateLimitConfig) error {
	if rl.IntervalMS < 0 {
		return invalid("rate_limit.interval_ms", "must be >= 0")
	}
	for i, v := range rl.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		switch key {
		case "", UpdateCallback, UpdateMessage:
			rl.ExcludeUpdates[i] = key
		default:
			return invalid("rate_limit.exclude_updates", "invalid value %q; allowed: callback, message", v)
		}
	}
	return nil
}

func normalizeStore(s *StoreConfig) error {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	switch s.Backend {
	case "":
		s.Backend = StoreMemory
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(s.Postgres.Host) == "" || strings.TrimSpace(s.Postgres.Name) == "" {
			return invalid("store.postgres", "host and name are required for the postgres backend")
		}
		if s.Postgres.Port == "" {
			s.Postgres.Port = "5432"
		}
		if s.Postgres.SSLMode == "" {
			s.Postgres.SSLMode = "disable"
		}
		if s.Postgres.MaxConnections <= 0 {
			s.Postgres.MaxConnections = 5
		}
		if s.Postgres.MigrationsDir == "" {
			s.Postgres.MigrationsDir = "migrations"
		}
	default:
		return invalid("store.backend", "invalid value %q; allowed: memory, postgres", s.Backend)
	}
	if s.Horizon <= 0 {
		s.Horizon = DefaultStoreHorizon
	}
	if s.PurgeInterval <= 0 {
		s.PurgeInterval = DefaultPurgeInterval
	}
	return nil
}

func normalizeRelay(r *RelayConfig) error {
	if r.MaxAttempts < 0 {
		return invalid("relay.max_attempts", "must be >= 0")
	}
	if r.ResponseTimeout <= 0 {
		r.ResponseTimeout = DefaultResponseTimeout
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = DefaultSweepInterval
	}
	if r.BatchSize <= 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.Pause < 0 {
		return invalid("relay.pause", "must be >= 0")
	}
	if r.Pause == 0 {
		r.Pause = DefaultPause
	}
	if r.SendTimeout <= 0 {
		r.SendTimeout = DefaultSendTimeout
	}
	if r.StartupCheck == nil {
		on := true
		r.StartupCheck = &on
	}
	return nil
}

// StartupCheckEnabled reports whether the admin connectivity probe runs at start.
func (r RelayConfig) StartupCheckEnabled() bool {
	return r.StartupCheck == nil || *r.StartupCheck
}
