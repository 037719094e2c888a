package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port                      string        `mapstructure:"PORT" validate:"required,numeric"`
	Env                       string        `mapstructure:"ENV" validate:"oneof=development staging production"`
	DatabaseURL               string        `mapstructure:"DATABASE_URL" validate:"required"`
	DBMaxConns                int32         `mapstructure:"DB_MAX_CONNS" validate:"gte=1"`
	DBMinConns                int32         `mapstructure:"DB_MIN_CONNS" validate:"gte=0,ltefield=DBMaxConns"`
	DefaultTenant             string        `mapstructure:"DEFAULT_TENANT" validate:"required"`
	Tenants                   []string      `mapstructure:"TENANTS"`
	CORSOrigins               []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS              float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst            int           `mapstructure:"RATE_LIMIT_BURST"`
	AuthSigningKey            string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer                string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience              string        `mapstructure:"AUTH_AUDIENCE"`
	ClinicTimezone            string        `mapstructure:"CLINIC_TIMEZONE" validate:"required"`
	ReminderInterval          time.Duration `mapstructure:"REMINDER_INTERVAL" validate:"gt=0"`
	ReminderWindow            time.Duration `mapstructure:"REMINDER_WINDOW" validate:"gt=0"`
	PurgeInterval             time.Duration `mapstructure:"PURGE_INTERVAL" validate:"gt=0"`
	NotificationRetentionDays int           `mapstructure:"NOTIFICATION_RETENTION_DAYS" validate:"gte=1"`
	TelegramBotToken          string        `mapstructure:"TELEGRAM_BOT_TOKEN"`
}

var tenantPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "TENANTS", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CLINIC_TIMEZONE",
	"REMINDER_INTERVAL", "REMINDER_WINDOW", "PURGE_INTERVAL",
	"NOTIFICATION_RETENTION_DAYS", "TELEGRAM_BOT_TOKEN",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("REMINDER_INTERVAL", "1h")
	v.SetDefault("REMINDER_WINDOW", "30m")
	v.SetDefault("PURGE_INTERVAL", "24h")
	v.SetDefault("NOTIFICATION_RETENTION_DAYS", 30)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.Tenants = splitList(cfg.Tenants, v.GetString("TENANTS"))
	if len(cfg.Tenants) == 0 {
		cfg.Tenants = []string{cfg.DefaultTenant}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList accepts both an already decoded slice and a raw comma separated value.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 1 && strings.Contains(decoded[0], ",") {
		raw = decoded[0]
		decoded = nil
	}
	if len(decoded) == 0 && raw != "" {
		decoded = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(decoded))
	for _, s := range decoded {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. Calendar dates and slot times are
// interpreted in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// NotificationRetention is the age after which stored notifications are purged.
func (c *Config) NotificationRetention() time.Duration {
	return time.Duration(c.NotificationRetentionDays) * 24 * time.Hour
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes outside development (ENV=%q)", c.Env)
	}

	// Each lead-time window is [target-w, target+w]. With an interval larger
	// than 2w an appointment could fall between two consecutive scans.
	if c.ReminderInterval > 2*c.ReminderWindow {
		return fmt.Errorf("REMINDER_INTERVAL (%s) must not exceed twice REMINDER_WINDOW (%s)",
			c.ReminderInterval, c.ReminderWindow)
	}

	for _, t := range append([]string{c.DefaultTenant}, c.Tenants...) {
		if !tenantPattern.MatchString(t) {
			return fmt.Errorf("TENANTS contains invalid identifier %q", t)
		}
	}

	return nil
}
