package config

import (
	"fmt"
	"time"
)

// Storage backends for the state store.
const (
	StorageBackendInMemory = "inmemory"
	StorageBackendSQL      = "sql"
)

// StateStoreConfig configures session persistence.
type StateStoreConfig struct {
	// Backend selects the storage backend: "inmemory" (default) or "sql".
	Backend string `yaml:"backend,omitempty"`

	// Retention is how long an idle session is kept before expiry.
	Retention string `yaml:"retention,omitempty"`

	// SweepInterval controls the background expiry sweep of the in-memory
	// backend. Zero disables the sweep; expiry is then lazy on Get.
	SweepInterval string `yaml:"sweep_interval,omitempty"`

	// Database configures the SQL backend.
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// DatabaseConfig configures a SQL connection.
type DatabaseConfig struct {
	// Driver specifies the database driver: "postgres", "mysql", or "sqlite".
	Driver string `yaml:"driver"`

	// Host is the database server hostname (not required for SQLite).
	Host string `yaml:"host,omitempty"`

	// Port is the database server port (not required for SQLite).
	Port int `yaml:"port,omitempty"`

	// Database is the database name (or file path for SQLite).
	Database string `yaml:"database"`

	// Username for database authentication.
	Username string `yaml:"username,omitempty"`

	// Password for database authentication.
	Password string `yaml:"password,omitempty"`

	// SSLMode for PostgreSQL connections.
	SSLMode string `yaml:"ssl_mode,omitempty"`

	// MaxConns is the maximum number of open connections.
	MaxConns int `yaml:"max_conns,omitempty"`

	// MaxIdle is the maximum number of idle connections.
	MaxIdle int `yaml:"max_idle,omitempty"`
}

// SetDefaults applies default values to the state store config.
func (c *StateStoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StorageBackendInMemory
	}
	if c.Retention == "" {
		c.Retention = "720h" // 30 days
	}
	if c.SweepInterval == "" {
		c.SweepInterval = "10m"
	}
	if c.Database != nil {
		c.Database.SetDefaults()
	}
}

// Validate checks the state store configuration.
func (c *StateStoreConfig) Validate() error {
	if c.Backend != StorageBackendInMemory && c.Backend != StorageBackendSQL {
		return fmt.Errorf("invalid backend %q (valid: inmemory, sql)", c.Backend)
	}
	if c.Backend == StorageBackendSQL {
		if c.Database == nil {
			return fmt.Errorf("database is required when backend is sql")
		}
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if _, err := time.ParseDuration(c.Retention); err != nil {
		return fmt.Errorf("invalid retention: %w", err)
	}
	if c.SweepInterval != "" {
		if _, err := time.ParseDuration(c.SweepInterval); err != nil {
			return fmt.Errorf("invalid sweep_interval: %w", err)
		}
	}
	return nil
}

// RetentionDuration returns the parsed retention window.
func (c *StateStoreConfig) RetentionDuration() time.Duration {
	d, err := time.ParseDuration(c.Retention)
	if err != nil {
		return 720 * time.Hour
	}
	return d
}

// SweepIntervalDuration returns the parsed sweep interval.
func (c *StateStoreConfig) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// IsSQL returns true if using SQL session storage.
func (c *StateStoreConfig) IsSQL() bool {
	return c != nil && c.Backend == StorageBackendSQL
}

// SetDefaults applies default values to the database config.
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("driver is required")
	}
	validDrivers := map[string]bool{
		"postgres": true,
		"mysql":    true,
		"sqlite":   true,
		"sqlite3":  true,
	}
	if !validDrivers[c.Driver] {
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Driver != "sqlite" && c.Driver != "sqlite3" && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}
	return nil
}

// DSN returns the data source name for the configured driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		if c.SSLMode != "" {
			dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
		}
		return dsn
	case "mysql":
		if c.Username != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
				c.Username, c.Password, c.Host, c.Port, c.Database)
		}
		return fmt.Sprintf("tcp(%s:%d)/%s?parseTime=true", c.Host, c.Port, c.Database)
	case "sqlite", "sqlite3":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the normalized driver name for sql.Open.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns the normalized SQL dialect name for query building.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}
