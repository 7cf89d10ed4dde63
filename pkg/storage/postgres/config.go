package postgres

import "time"

// Default pool settings applied by New for zero-valued fields.
const (
	DefaultMaxConns          int32 = 25
	DefaultMinConns          int32 = 2
	DefaultMaxConnLifetime         = 30 * time.Minute
	DefaultHealthCheckPeriod       = time.Minute
	DefaultApplicationName         = "weiche"
)

// Config configures the run store connection pool.
type Config struct {
	// DSN is a libpq connection string or postgres:// URL.
	DSN string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration

	// ApplicationName is reported to the server as application_name so
	// gateway sessions are identifiable in pg_stat_activity.
	ApplicationName string

	// MigrateOnStart applies pending embedded migrations in New.
	MigrateOnStart bool
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns <= 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	if c.ApplicationName == "" {
		c.ApplicationName = DefaultApplicationName
	}
	return c
}
