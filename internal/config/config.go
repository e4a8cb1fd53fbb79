// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN. Required by the server and migrate binaries.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// PlatformBaseURL is the messaging platform API base URL (e.g. https://platform.example.com/api). Required by the server.
	PlatformBaseURL string `mapstructure:"PLATFORM_BASE_URL"`
	// PlatformToken is the bot/service token used to authenticate against the platform API. Required by the server.
	PlatformToken string `mapstructure:"PLATFORM_TOKEN"`
	// WebhookAddr is the address the webhook listener binds (e.g. :8090).
	WebhookAddr string `mapstructure:"WEBHOOK_ADDR"`
	// WebhookSecret is the HS256 secret used to verify platform webhook tokens. Required by the server.
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
	// SessionTTL is the session lifetime (e.g. "24h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// SweepInterval is how often the expiry sweeper runs (e.g. "5m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// KickThreshold is the attempt count above which the user is removed; at the threshold a final warning is sent.
	KickThreshold int `mapstructure:"KICK_THRESHOLD"`
	// WarnThreshold is the attempt count at which remaining-attempts warnings begin.
	WarnThreshold int `mapstructure:"WARN_THRESHOLD"`
	// ExemptRoles is a comma-separated list of role/group ids that bypass the gate.
	ExemptRoles string `mapstructure:"EXEMPT_ROLES"`

	// Notifications (optional). When Kafka brokers are set, state transitions are emitted to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// NotifyKafkaTopic is the Kafka topic for notification events (default threadgate-notifications).
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`

	// OTLPEndpoint enables OTel export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Worker-only: Loki URL for the notification worker to push events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the notification worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("PLATFORM_BASE_URL", "")
	v.SetDefault("PLATFORM_TOKEN", "")
	v.SetDefault("WEBHOOK_ADDR", ":8090")
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("KICK_THRESHOLD", 10)
	v.SetDefault("WARN_THRESHOLD", 7)
	v.SetDefault("EXEMPT_ROLES", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFY_KAFKA_TOPIC", "threadgate-notifications")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "threadgate-notify-worker")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.KickThreshold <= 0 {
		return nil, errors.New("config: KICK_THRESHOLD must be positive")
	}
	if cfg.WarnThreshold <= 0 || cfg.WarnThreshold > cfg.KickThreshold {
		return nil, errors.New("config: WARN_THRESHOLD must be positive and not exceed KICK_THRESHOLD")
	}
	if _, err := time.ParseDuration(cfg.SessionTTL); err != nil {
		return nil, errors.New("config: SESSION_TTL must be a valid duration")
	}
	if _, err := time.ParseDuration(cfg.SweepInterval); err != nil {
		return nil, errors.New("config: SWEEP_INTERVAL must be a valid duration")
	}

	return &cfg, nil
}

// TTL parses SessionTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) TTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// SweepEvery parses SweepInterval as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ExemptRoleSet returns ExemptRoles split on commas with whitespace and empty entries dropped.
func (c *Config) ExemptRoleSet() map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range strings.Split(c.ExemptRoles, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			out[r] = struct{}{}
		}
	}
	return out
}

// KafkaBrokersList returns KafkaBrokers split on commas with whitespace and empty entries dropped.
func (c *Config) KafkaBrokersList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
