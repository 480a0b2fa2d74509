// Package config provides configuration loading and validation for the
// SafeHorizon pipeline service: database connectivity, the cross-instance
// broker, JWT authentication, CORS, and the background refresh/timeout
// intervals the rest of the service depends on.
//
// Grounded on the teacher's internal/config/config.go getEnvWithDefault
// helper and aggregating-Validate pattern, generalized from MQTT/TimescaleDB
// dog-walk settings to SafeHorizon's database/broker/auth settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultJWTExpiryMinutes = 24 * 60
	DefaultScoreRefreshSecs = 30
	DefaultSessionIdleSecs  = 120
)

// DatabaseConfig holds Postgres/TimescaleDB connection settings.
type DatabaseConfig struct {
	URL string
}

// BrokerConfig holds the cross-instance pub/sub broker's connection string.
type BrokerConfig struct {
	URL string
}

// AuthConfig holds JWT signing parameters (spec §6.1).
type AuthConfig struct {
	Secret     string
	ExpiryMins int
}

// NotifierConfig holds push/SMS transport credentials (spec §6.4); these
// transports are external collaborators, so the fields here are paths/ids
// handed to whatever concrete adapter is wired at startup, not parsed here.
type NotifierConfig struct {
	PushCredentialsPath string
	SMSAccountSID       string
	SMSAuthToken        string
	SMSFromNumber       string
}

// ServiceConfig holds the background-interval and limit settings for the
// Geofence Index, the rate limiter and the HTTP server. SessionIdleTimeout
// (SESSION_IDLE_SECS) is loaded and validated but not passed to the Gateway,
// whose idle read deadline is the fixed idleTimeout constant (120 s) in
// internal/gateway/session.go.
type ServiceConfig struct {
	ScoreRefreshInterval time.Duration
	SessionIdleTimeout   time.Duration
	AllowedOrigins       []string
	RateLimitPerSecond   float64
	RateLimitBurst       int
	HTTPPort             int
}

type Config struct {
	Database DatabaseConfig
	Broker   BrokerConfig
	Auth     AuthConfig
	Notifier NotifierConfig
	Service  ServiceConfig
}

// Validate aggregates every configuration error into one, in the teacher's
// style (multiple independent checks, joined rather than failing fast).
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, "DATABASE_URL is empty")
	}
	if strings.TrimSpace(c.Broker.URL) == "" {
		errs = append(errs, "BROKER_URL is empty")
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, "JWT_SECRET is empty")
	}
	if c.Auth.ExpiryMins <= 0 {
		errs = append(errs, fmt.Sprintf("JWT_EXPIRY_MIN %d must be positive", c.Auth.ExpiryMins))
	}
	if c.Service.ScoreRefreshInterval <= 0 {
		errs = append(errs, "SCORE_REFRESH_SECS must be positive")
	}
	if c.Service.SessionIdleTimeout <= 0 {
		errs = append(errs, "SESSION_IDLE_SECS must be positive")
	}
	if c.Service.RateLimitPerSecond <= 0 {
		errs = append(errs, "RATE_LIMIT_PER_SECOND must be positive")
	}
	if c.Service.HTTPPort <= 0 || c.Service.HTTPPort > 65535 {
		errs = append(errs, fmt.Sprintf("HTTP_PORT %d is out of valid range", c.Service.HTTPPort))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}

// Load reads environment variables, applies defaults, and returns a
// validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{URL: getEnvWithDefault("DATABASE_URL", "postgres://localhost:5432/safehorizon")},
		Broker:   BrokerConfig{URL: getEnvWithDefault("BROKER_URL", "redis://localhost:6379/0")},
		Auth: AuthConfig{
			Secret:     getEnvWithDefault("JWT_SECRET", ""),
			ExpiryMins: atoiDefault("JWT_EXPIRY_MIN", DefaultJWTExpiryMinutes),
		},
		Notifier: NotifierConfig{
			PushCredentialsPath: getEnvWithDefault("PUSH_CREDENTIALS_PATH", ""),
			SMSAccountSID:       getEnvWithDefault("SMS_ACCOUNT_SID", ""),
			SMSAuthToken:        getEnvWithDefault("SMS_AUTH_TOKEN", ""),
			SMSFromNumber:       getEnvWithDefault("SMS_FROM_NUMBER", ""),
		},
		Service: ServiceConfig{
			ScoreRefreshInterval: time.Duration(atoiDefault("SCORE_REFRESH_SECS", DefaultScoreRefreshSecs)) * time.Second,
			SessionIdleTimeout:   time.Duration(atoiDefault("SESSION_IDLE_SECS", DefaultSessionIdleSecs)) * time.Second,
			AllowedOrigins:       splitCSV(getEnvWithDefault("ALLOWED_ORIGINS", "")),
			RateLimitPerSecond:   atofDefault("RATE_LIMIT_PER_SECOND", 50),
			RateLimitBurst:       atoiDefault("RATE_LIMIT_BURST", 100),
			HTTPPort:             atoiDefault("HTTP_PORT", 8080),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	val, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(val) == "" {
		return defaultValue
	}
	return strings.TrimSpace(val)
}

func atoiDefault(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnvWithDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func atofDefault(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnvWithDefault(key, strconv.FormatFloat(defaultValue, 'f', -1, 64)), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
