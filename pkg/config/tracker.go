package config

import (
	"fmt"
	"time"
)

const (
	// DefaultListen is the tracking service listen address.
	DefaultListen = ":5000"

	// DefaultSessionTTL is how long an issued bearer token stays valid.
	DefaultSessionTTL = 2 * time.Hour

	// DefaultAuthRequestsPerMinute limits login attempts per client IP.
	DefaultAuthRequestsPerMinute = 10

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "grasshopper.db"

	// DefaultPostgresPort is the default PostgreSQL port.
	DefaultPostgresPort = 5432

	// DefaultMetricsPath is where prometheus metrics are exposed.
	DefaultMetricsPath = "/metrics"

	// Database drivers.
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// TrackerConfig contains all tracking service configuration.
type TrackerConfig struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting of the auth endpoint.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth    RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
	Users      []UserConfig  `yaml:"users,omitempty" mapstructure:"users"`
}

// UserConfig provisions a user at startup.
type UserConfig struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

func (c *TrackerConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Auth.RequestsPerMinute == 0 {
		c.Server.RateLimit.Auth.RequestsPerMinute = DefaultAuthRequestsPerMinute
	}

	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}

	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = DefaultPostgresPort
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks the tracking service configuration for errors.
func (c *TrackerConfig) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("tracker.server.listen: required")
	}

	if err := validatePositive("tracker.auth.session_ttl", c.Auth.SessionTTL); err != nil {
		return err
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.Auth.RequestsPerMinute < 0 {
		return fmt.Errorf("tracker.server.rate_limit.auth.requests_per_minute: must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Auth.Users))

	for i, u := range c.Auth.Users {
		if u.Username == "" {
			return fmt.Errorf("tracker.auth.users[%d]: username is required", i)
		}

		if u.Password == "" {
			return fmt.Errorf("tracker.auth.users[%d]: password is required", i)
		}

		if _, ok := seen[u.Username]; ok {
			return fmt.Errorf("tracker.auth.users[%d]: duplicate username %q", i, u.Username)
		}

		seen[u.Username] = struct{}{}
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("tracker.database.sqlite.path: required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("tracker.database.postgres.host: required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("tracker.database.postgres.database: required")
		}
	default:
		return fmt.Errorf("tracker.database.driver: unsupported driver %q", c.Database.Driver)
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("tracker.metrics.path: required when metrics are enabled")
	}

	return nil
}
