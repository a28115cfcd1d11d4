package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	ReviewStream   string   `mapstructure:"REVIEW_STREAM"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	BatchBodyLimit string        `mapstructure:"BATCH_BODY_LIMIT"`

	// Pipeline tuning.
	PipelineConcurrency       int           `mapstructure:"PIPELINE_CONCURRENCY"`
	LookupTimeout             time.Duration `mapstructure:"LOOKUP_TIMEOUT"`
	LookupRPS                 float64       `mapstructure:"LOOKUP_RPS"`
	LookupBurst               int           `mapstructure:"LOOKUP_BURST"`
	ConfidenceThreshold       float64       `mapstructure:"CONFIDENCE_THRESHOLD"`
	TrendStabilityThreshold   float64       `mapstructure:"TREND_STABILITY_THRESHOLD"`
	TrendRapidChangeThreshold float64       `mapstructure:"TREND_RAPID_CHANGE_THRESHOLD"`
	TrendLookbackDays         int           `mapstructure:"TREND_LOOKBACK_DAYS"`
	ValueSanityMin            float64       `mapstructure:"VALUE_SANITY_MIN"`
	ValueSanityMax            float64       `mapstructure:"VALUE_SANITY_MAX"`

	AuditBatchSize     int           `mapstructure:"AUDIT_BATCH_SIZE"`
	AuditFlushInterval time.Duration `mapstructure:"AUDIT_FLUSH_INTERVAL"`
	AuditRetryAttempts int           `mapstructure:"AUDIT_RETRY_ATTEMPTS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REVIEW_STREAM",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"BODY_LIMIT", "BATCH_BODY_LIMIT",
	"PIPELINE_CONCURRENCY", "LOOKUP_TIMEOUT", "LOOKUP_RPS", "LOOKUP_BURST",
	"CONFIDENCE_THRESHOLD", "TREND_STABILITY_THRESHOLD", "TREND_RAPID_CHANGE_THRESHOLD",
	"TREND_LOOKBACK_DAYS", "VALUE_SANITY_MIN", "VALUE_SANITY_MAX",
	"AUDIT_BATCH_SIZE", "AUDIT_FLUSH_INTERVAL", "AUDIT_RETRY_ATTEMPTS",
}

// Load reads configuration from the environment and an optional .env file.
// DATABASE_URL is required.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// LoadOffline is Load without the DATABASE_URL requirement, for commands that
// run against file-backed reference data.
func LoadOffline() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REVIEW_STREAM", "labreview:decisions")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("BATCH_BODY_LIMIT", "4M")
	v.SetDefault("PIPELINE_CONCURRENCY", 8)
	v.SetDefault("LOOKUP_TIMEOUT", "2s")
	v.SetDefault("LOOKUP_RPS", 500)
	v.SetDefault("LOOKUP_BURST", 100)
	v.SetDefault("CONFIDENCE_THRESHOLD", 0.7)
	v.SetDefault("TREND_STABILITY_THRESHOLD", 0.05)
	v.SetDefault("TREND_RAPID_CHANGE_THRESHOLD", 0.25)
	v.SetDefault("TREND_LOOKBACK_DAYS", 365)
	v.SetDefault("VALUE_SANITY_MIN", -1000)
	v.SetDefault("VALUE_SANITY_MAX", 1e6)
	v.SetDefault("AUDIT_BATCH_SIZE", 64)
	v.SetDefault("AUDIT_FLUSH_INTERVAL", "250ms")
	v.SetDefault("AUDIT_RETRY_ATTEMPTS", 3)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key is required so that bearer tokens are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.PipelineConcurrency < 1 {
		return fmt.Errorf("PIPELINE_CONCURRENCY must be positive, got %d", c.PipelineConcurrency)
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0, 1], got %v", c.ConfidenceThreshold)
	}
	if c.TrendStabilityThreshold < 0 || c.TrendRapidChangeThreshold <= c.TrendStabilityThreshold {
		return fmt.Errorf("TREND_RAPID_CHANGE_THRESHOLD (%v) must exceed TREND_STABILITY_THRESHOLD (%v)",
			c.TrendRapidChangeThreshold, c.TrendStabilityThreshold)
	}
	if c.ValueSanityMin >= c.ValueSanityMax {
		return fmt.Errorf("VALUE_SANITY_MIN (%v) must be below VALUE_SANITY_MAX (%v)", c.ValueSanityMin, c.ValueSanityMax)
	}
	if c.AuditRetryAttempts < 1 {
		return fmt.Errorf("AUDIT_RETRY_ATTEMPTS must be at least 1, got %d", c.AuditRetryAttempts)
	}
	if c.AuditBatchSize < 1 {
		return fmt.Errorf("AUDIT_BATCH_SIZE must be at least 1, got %d", c.AuditBatchSize)
	}
	return nil
}

// TrendLookback returns the trend window length.
func (c *Config) TrendLookback() time.Duration {
	return time.Duration(c.TrendLookbackDays) * 24 * time.Hour
}
