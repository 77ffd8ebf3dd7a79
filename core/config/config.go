package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
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
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
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

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": inline button presses (postbacks and quick replies)
// - "message": text, media and location messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// SessionConfig controls conversation record lifetime.
type SessionConfig struct {
	MaxAge        time.Duration `yaml:"max_age" envconfig:"SESSION_MAX_AGE"`
	KeyPrefix     string        `yaml:"key_prefix" envconfig:"SESSION_KEY_PREFIX"`
	PurgeInterval time.Duration `yaml:"purge_interval" envconfig:"SESSION_PURGE_INTERVAL"`
}

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageDynamoDB = "dynamodb"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// DynamoDBConfig points the session store at a DynamoDB table.
type DynamoDBConfig struct {
	Table    string `yaml:"table" envconfig:"DYNAMODB_TABLE"`
	Region   string `yaml:"region" envconfig:"AWS_REGION"`
	Endpoint string `yaml:"endpoint" envconfig:"DYNAMODB_ENDPOINT"`
}

// StorageConfig selects and configures the session store.
type StorageConfig struct {
	Backend  string         `yaml:"backend" envconfig:"STORAGE_BACKEND"`
	Postgres DatabaseConfig `yaml:"postgres"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// BackendConfig holds issue API credentials and the report card presentation.
type BackendConfig struct {
	APIURI         string `yaml:"api_uri" envconfig:"API_URI"`
	Username       string `yaml:"username" envconfig:"API_USERNAME"`
	Password       string `yaml:"password" envconfig:"API_PASSWORD"`
	UserID         string `yaml:"user_id" envconfig:"API_USER_ID"`
	Organization   string `yaml:"organization" envconfig:"API_ORGANIZATION"`
	PinURLBase     string `yaml:"pin_url_base" envconfig:"PIN_URL_BASE"`
	CardTitle      string `yaml:"card_title"`
	FallbackImage  string `yaml:"fallback_image"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"API_TIMEOUT_SECONDS"`
}

// LocaleConfig selects the default language and optional catalog overrides.
type LocaleConfig struct {
	Default string `yaml:"default" envconfig:"LOCALE_DEFAULT"`
	Dir     string `yaml:"dir" envconfig:"LOCALE_DIR"`
}

// PacingConfig sets the pause between chained replies.
type PacingConfig struct {
	DelayMS int `yaml:"delay_ms" envconfig:"PACING_DELAY_MS"`
}

// NotifyConfig enables the push endpoint used by the backend to message reporters.
type NotifyConfig struct {
	Listen string `yaml:"listen" envconfig:"NOTIFY_LISTEN"`
	Token  string `yaml:"token" envconfig:"NOTIFICATION_TOKEN"`
}

// EngineConfig tunes conversation behaviour.
type EngineConfig struct {
	SerializeUsers bool   `yaml:"serialize_users" envconfig:"ENGINE_SERIALIZE_USERS"`
	ResetKeyword   string `yaml:"reset_keyword"`
	DescThreshold  int    `yaml:"desc_threshold"`
}

// Config aggregates all runtime configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`
	Storage   StorageConfig   `yaml:"storage"`
	Backend   BackendConfig   `yaml:"backend"`
	Locale    LocaleConfig    `yaml:"locale"`
	Pacing    PacingConfig    `yaml:"pacing"`
	Notify    NotifyConfig    `yaml:"notify"`
	Engine    EngineConfig    `yaml:"engine"`
}

// Defaults applied by Normalize.
const (
	DefaultSessionMaxAge  = time.Hour
	DefaultPurgeInterval  = 10 * time.Minute
	DefaultKeyPrefix      = "mafueng-user:"
	DefaultLocale         = "th"
	DefaultPacingMS       = 1000
	DefaultResetKeyword   = "#เริ่มใหม่"
	DefaultDescThreshold  = 140
	DefaultOrganization   = "583ddb7a3db23914407f9b58"
	DefaultPinURLBase     = "http://mafueng.youpin.city/pins/"
	DefaultCardTitle      = "iCare - Chula Engineering"
	DefaultFallbackImage  = "https://mafueng.youpin.city/public/image/logo-l.png"
	DefaultBackendTimeout = 15
)

// Load reads configuration from a YAML file and environment variables.
// An empty path skips the file and relies on the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults. It fails fast so the
// bot never starts without credentials.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if err := normalizeRunMode(cfg); err != nil {
		return err
	}
	if err := normalizeRateLimit(cfg); err != nil {
		return err
	}
	if err := normalizeBackend(&cfg.Backend); err != nil {
		return err
	}
	if err := normalizeStorage(&cfg.Storage); err != nil {
		return err
	}

	if cfg.Session.MaxAge <= 0 {
		cfg.Session.MaxAge = DefaultSessionMaxAge
	}
	if cfg.Session.PurgeInterval <= 0 {
		cfg.Session.PurgeInterval = DefaultPurgeInterval
	}
	if strings.TrimSpace(cfg.Session.KeyPrefix) == "" {
		cfg.Session.KeyPrefix = DefaultKeyPrefix
	}

	cfg.Locale.Default = strings.ToLower(strings.TrimSpace(cfg.Locale.Default))
	switch cfg.Locale.Default {
	case "":
		cfg.Locale.Default = DefaultLocale
	case "th", "en":
	default:
		return fmt.Errorf("invalid locale.default %q; allowed: th, en", cfg.Locale.Default)
	}

	if cfg.Pacing.DelayMS < 0 {
		return fmt.Errorf("pacing.delay_ms must be >= 0")
	}
	if cfg.Pacing.DelayMS == 0 {
		cfg.Pacing.DelayMS = DefaultPacingMS
	}

	if strings.TrimSpace(cfg.Notify.Listen) != "" && strings.TrimSpace(cfg.Notify.Token) == "" {
		return fmt.Errorf("notify.token is required when notify.listen is set")
	}

	if strings.TrimSpace(cfg.Engine.ResetKeyword) == "" {
		cfg.Engine.ResetKeyword = DefaultResetKeyword
	}
	if cfg.Engine.DescThreshold <= 0 {
		cfg.Engine.DescThreshold = DefaultDescThreshold
	}
	return nil
}

// PacingDelay returns the configured pause between chained replies.
func (c *Config) PacingDelay() time.Duration {
	return time.Duration(c.Pacing.DelayMS) * time.Millisecond
}

func normalizeRunMode(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeRateLimit(cfg *Config) error {
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		switch key {
		case "", UpdateCallback, UpdateMessage:
		default:
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return nil
}

func normalizeBackend(b *BackendConfig) error {
	required := []struct {
		name  string
		value string
	}{
		{"backend.api_uri (API_URI)", b.APIURI},
		{"backend.username (API_USERNAME)", b.Username},
		{"backend.password (API_PASSWORD)", b.Password},
		{"backend.user_id (API_USER_ID)", b.UserID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	b.APIURI = strings.TrimRight(strings.TrimSpace(b.APIURI), "/")
	if b.Organization == "" {
		b.Organization = DefaultOrganization
	}
	if b.PinURLBase == "" {
		b.PinURLBase = DefaultPinURLBase
	}
	if b.CardTitle == "" {
		b.CardTitle = DefaultCardTitle
	}
	if b.FallbackImage == "" {
		b.FallbackImage = DefaultFallbackImage
	}
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = DefaultBackendTimeout
	}
	return nil
}

func normalizeStorage(s *StorageConfig) error {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	switch s.Backend {
	case "":
		s.Backend = StorageMemory
	case StorageMemory:
	case StoragePostgres:
		if s.Postgres.Host == "" || s.Postgres.Name == "" {
			return fmt.Errorf("storage.postgres.host and storage.postgres.name are required for the postgres backend")
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
	case StorageDynamoDB:
		if strings.TrimSpace(s.DynamoDB.Table) == "" {
			return fmt.Errorf("storage.dynamodb.table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("invalid storage.backend %q; allowed: memory, postgres, dynamodb", s.Backend)
	}
	return nil
}
