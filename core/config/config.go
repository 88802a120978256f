package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds settings for the operator admin bot.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	// LongPollTimeoutSeconds sets the update polling timeout; 0 keeps the
	// transport default.
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// GiftsConfig holds settings for the remote gifting API.
type GiftsConfig struct {
	BaseURL string `yaml:"base_url" envconfig:"GIFTS_BASE_URL"`
	// Credentials may also live in the operator config document; values here
	// take precedence when non-empty.
	Login    string `yaml:"login" envconfig:"GIFTS_LOGIN"`
	Password string `yaml:"password" envconfig:"GIFTS_PASSWORD"`

	AuthTimeoutSeconds     int `yaml:"auth_timeout_seconds" envconfig:"GIFTS_AUTH_TIMEOUT_SECONDS"`
	BalanceTimeoutSeconds  int `yaml:"balance_timeout_seconds" envconfig:"GIFTS_BALANCE_TIMEOUT_SECONDS"`
	DispatchTimeoutSeconds int `yaml:"dispatch_timeout_seconds" envconfig:"GIFTS_DISPATCH_TIMEOUT_SECONDS"`
}

// FulfillmentConfig holds buyer-conversation engine settings.
type FulfillmentConfig struct {
	// DocumentPath locates the operator config document (credentials, lot
	// mapping, templates, order history).
	DocumentPath string `yaml:"document_path" envconfig:"FULFILLMENT_DOCUMENT_PATH"`
	// SessionTTL expires abandoned buyer conversations; 0 disables expiry.
	SessionTTL time.Duration `yaml:"session_ttl" envconfig:"FULFILLMENT_SESSION_TTL"`
	// HistoryBackend selects where completed orders are persisted.
	HistoryBackend string `yaml:"history_backend" envconfig:"FULFILLMENT_HISTORY_BACKEND"`
}

// LoggingConfig controls log output destinations and verbosity.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile selects an environment preset such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// HistoryDocument persists completed orders inside the config document.
	HistoryDocument = "document"
	// HistoryPostgres persists completed orders in a Postgres table.
	HistoryPostgres = "postgres"
)

const (
	defaultBaseURL         = "https://api.ns.gifts/api/v1"
	defaultDocumentPath    = "storage/steam_gifts/config.json"
	defaultAuthTimeout     = 10
	defaultBalanceTimeout  = 10
	defaultDispatchTimeout = 30
)

// Config aggregates the service configuration loaded at startup.
type Config struct {
	Telegram    TelegramConfig    `yaml:"telegram"`
	Gifts       GiftsConfig       `yaml:"gifts"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads the YAML config at path, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults in place.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Telegram.LongPollTimeoutSeconds < 0 {
		return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
	}

	if strings.TrimSpace(cfg.Gifts.BaseURL) == "" {
		cfg.Gifts.BaseURL = defaultBaseURL
	}
	cfg.Gifts.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Gifts.BaseURL), "/")
	if cfg.Gifts.AuthTimeoutSeconds <= 0 {
		cfg.Gifts.AuthTimeoutSeconds = defaultAuthTimeout
	}
	if cfg.Gifts.BalanceTimeoutSeconds <= 0 {
		cfg.Gifts.BalanceTimeoutSeconds = defaultBalanceTimeout
	}
	if cfg.Gifts.DispatchTimeoutSeconds <= 0 {
		cfg.Gifts.DispatchTimeoutSeconds = defaultDispatchTimeout
	}

	if strings.TrimSpace(cfg.Fulfillment.DocumentPath) == "" {
		cfg.Fulfillment.DocumentPath = defaultDocumentPath
	}
	if cfg.Fulfillment.SessionTTL < 0 {
		return fmt.Errorf("fulfillment.session_ttl must be >= 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Fulfillment.HistoryBackend))
	if backend == "" {
		backend = HistoryDocument
	}
	switch backend {
	case HistoryDocument, HistoryPostgres:
	default:
		return fmt.Errorf("invalid fulfillment.history_backend %q; allowed: document, postgres", cfg.Fulfillment.HistoryBackend)
	}
	cfg.Fulfillment.HistoryBackend = backend

	return nil
}
