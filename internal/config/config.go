package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env string `mapstructure:"ENV"`

	// Client / SDK settings.
	APIBaseURL      string        `mapstructure:"EBRIDGE_API_URL"`
	RequestTimeout  time.Duration `mapstructure:"EBRIDGE_REQUEST_TIMEOUT"`
	RefreshInterval time.Duration `mapstructure:"EBRIDGE_REFRESH_INTERVAL"`
	RefreshLead     time.Duration `mapstructure:"EBRIDGE_REFRESH_LEAD"`
	CookieFile      string        `mapstructure:"EBRIDGE_COOKIE_FILE"`
	RateLimitRPS    float64       `mapstructure:"EBRIDGE_RATE_LIMIT_RPS"`

	// Standalone auth server settings.
	Port            string        `mapstructure:"PORT"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("EBRIDGE_API_URL", "http://localhost:8000/api")
	v.SetDefault("EBRIDGE_REQUEST_TIMEOUT", "15s")
	// The backend issues 15-minute access tokens; renew 2 minutes early.
	v.SetDefault("EBRIDGE_REFRESH_INTERVAL", "13m")
	v.SetDefault("EBRIDGE_REFRESH_LEAD", "2m")
	v.SetDefault("EBRIDGE_RATE_LIMIT_RPS", 0)
	v.SetDefault("PORT", "8000")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("LOG_LEVEL", "info")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("EBRIDGE_API_URL")
	v.BindEnv("EBRIDGE_REQUEST_TIMEOUT")
	v.BindEnv("EBRIDGE_REFRESH_INTERVAL")
	v.BindEnv("EBRIDGE_REFRESH_LEAD")
	v.BindEnv("EBRIDGE_COOKIE_FILE")
	v.BindEnv("EBRIDGE_RATE_LIMIT_RPS")
	v.BindEnv("PORT")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("ACCESS_TOKEN_TTL")
	v.BindEnv("REFRESH_TOKEN_TTL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("LOG_LEVEL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run with. The proactive
// refresh interval must leave headroom under the access-token TTL, otherwise
// the client would only ever refresh after the token already expired.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("EBRIDGE_API_URL is required")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("EBRIDGE_API_URL must be an http(s) URL, got %q", c.APIBaseURL)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("EBRIDGE_REFRESH_INTERVAL must be positive, got %s", c.RefreshInterval)
	}
	if c.RefreshInterval >= c.AccessTokenTTL {
		return fmt.Errorf(
			"EBRIDGE_REFRESH_INTERVAL (%s) must be shorter than ACCESS_TOKEN_TTL (%s), "+
				"or the session will expire before the proactive refresh fires",
			c.RefreshInterval, c.AccessTokenTTL)
	}
	if c.RefreshLead < 0 {
		return fmt.Errorf("EBRIDGE_REFRESH_LEAD must not be negative, got %s", c.RefreshLead)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("EBRIDGE_REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	return nil
}
