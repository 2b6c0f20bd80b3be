// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Token store backends selectable with TOKEN_STORE.
const (
	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the public HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr serves the gRPC health service only.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL (redis://host:port/db) is required when TokenStore is "redis".
	RedisURL string `mapstructure:"REDIS_URL"`
	// TokenStore selects where refresh and OTP records live: postgres or redis.
	TokenStore string `mapstructure:"TOKEN_STORE"`

	// JWTSecret signs ordinary session access tokens.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTOTPSecret signs OTP-scoped access tokens; must differ from JWTSecret.
	JWTOTPSecret string `mapstructure:"JWT_OTP_SECRET"`
	// JWTAccessTTL is the session access token lifetime (default 5m).
	JWTAccessTTL time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	// OTPAccessTTL is the OTP access token lifetime (default 5m).
	OTPAccessTTL time.Duration `mapstructure:"OTP_ACCESS_TTL"`
	// RefreshValidDays is the absolute lifetime of a refresh chain.
	RefreshValidDays int `mapstructure:"REFRESH_VALID_DAYS"`
	// OTPTTL is how long an emailed code stays redeemable (default 1h).
	OTPTTL time.Duration `mapstructure:"OTP_TTL"`
	// BcryptCost is the bcrypt cost factor (4-31); default 10.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// APIKey is the pre-shared key callers send base64-encoded in the Api-Key header.
	APIKey string `mapstructure:"API_KEY"`

	MailFrom     string `mapstructure:"MAIL_FROM"`
	SMTPAddr     string `mapstructure:"SMTP_ADDR"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	// MailDevOutbox keeps OTP emails in memory instead of sending them. Must not be true when Env is production.
	MailDevOutbox bool `mapstructure:"MAIL_DEV_OUTBOX"`

	// AccountAPIURL is the base URL of the account service that receives profile syncs.
	AccountAPIURL string `mapstructure:"ACCOUNT_API_URL"`
	// AccountAPIKey is sent (base64) to the account service in the Api-key header.
	AccountAPIKey string `mapstructure:"ACCOUNT_API_KEY"`

	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables event publishing.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_TOPIC"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// SweepInterval is how often the worker purges expired refresh and OTP records.
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	// AuditRetention is how long audit rows are kept; zero keeps them forever.
	AuditRetention time.Duration `mapstructure:"AUDIT_RETENTION"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                   ":8080",
	"GRPC_ADDR":                   ":9090",
	"DATABASE_URL":                "",
	"REDIS_URL":                   "",
	"TOKEN_STORE":                 TokenStorePostgres,
	"JWT_SECRET":                  "",
	"JWT_OTP_SECRET":              "",
	"JWT_ACCESS_TTL":              "5m",
	"OTP_ACCESS_TTL":              "5m",
	"REFRESH_VALID_DAYS":          30,
	"OTP_TTL":                     "1h",
	"BCRYPT_COST":                 10,
	"API_KEY":                     "",
	"MAIL_FROM":                   "",
	"SMTP_ADDR":                   "",
	"SMTP_USERNAME":               "",
	"SMTP_PASSWORD":               "",
	"MAIL_DEV_OUTBOX":             false,
	"ACCOUNT_API_URL":             "",
	"ACCOUNT_API_KEY":             "",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"KAFKA_BROKERS":               "",
	"AUTH_EVENTS_TOPIC":           "auth-events",
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "json",
	"APP_ENV":                     "",
	"SWEEP_INTERVAL":              "10m",
	"AUDIT_RETENTION":             "2160h",
}

// Load reads config via Read and validates it for the server.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads .env (if present), then builds Config from the environment via Viper without
// validating it. Missing .env is ignored (e.g. in CI). Env vars override .env.
func Read() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.TokenStore = strings.ToLower(strings.TrimSpace(cfg.TokenStore))
	return &cfg, nil
}

// Validate checks the settings the server cannot start without. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must be set"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must be set"))
	}
	if c.JWTSecret == "" || c.JWTOTPSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET and JWT_OTP_SECRET must be set"))
	} else if c.JWTSecret == c.JWTOTPSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_OTP_SECRET must differ"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY must be set"))
	}
	switch c.TokenStore {
	case TokenStorePostgres:
	case TokenStoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL must be set when TOKEN_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("TOKEN_STORE must be postgres or redis, got %q", c.TokenStore))
	}
	if c.JWTAccessTTL <= 0 || c.OTPAccessTTL <= 0 || c.OTPTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL, OTP_ACCESS_TTL and OTP_TTL must be positive"))
	}
	if c.RefreshValidDays <= 0 {
		errs = append(errs, errors.New("REFRESH_VALID_DAYS must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 4 and 31"))
	}
	if c.MailDevOutbox && c.IsProduction() {
		errs = append(errs, errors.New("MAIL_DEV_OUTBOX must not be true when APP_ENV=production"))
	}
	if !c.MailDevOutbox && (c.SMTPAddr == "" || c.MailFrom == "") {
		errs = append(errs, errors.New("SMTP_ADDR and MAIL_FROM must be set unless MAIL_DEV_OUTBOX=true"))
	}
	if c.AccountAPIURL == "" {
		errs = append(errs, errors.New("ACCOUNT_API_URL must be set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// RefreshLifetime is the absolute lifetime of a refresh chain.
func (c *Config) RefreshLifetime() time.Duration {
	return time.Duration(c.RefreshValidDays) * 24 * time.Hour
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables event publishing.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
