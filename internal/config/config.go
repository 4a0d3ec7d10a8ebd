package config

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	State    StateConfig    `mapstructure:"state"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Lock     LockConfig     `mapstructure:"lock"`
	Upgrade  UpgradeConfig  `mapstructure:"upgrade"`
	Plan     PlanConfig     `mapstructure:"plan"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	// Driver is one of mysql, postgres or sqlite.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// Name is the schema holding the state table. Required on mysql, optional on postgres.
	Name           string `mapstructure:"name"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

type StateConfig struct {
	// Backend is sql (the upgraded database) or redis.
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
	// Prefix is prepended to state keys on redis.
	Prefix string `mapstructure:"prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LockConfig struct {
	// Backend is none, local, database or redis.
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type UpgradeConfig struct {
	Checkpoints   bool   `mapstructure:"checkpoints"`
	LegacyVersion string `mapstructure:"legacy_version"`
	// CurrentVersion and Versions describe which legacy versions can be upgraded.
	CurrentVersion string         `mapstructure:"current_version"`
	Versions       []VersionRange `mapstructure:"versions"`
}

type VersionRange struct {
	Min   string `mapstructure:"min"`
	Max   string `mapstructure:"max"`
	Token string `mapstructure:"token"`
}

type PlanConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Textfile receives the run's metrics in the node exporter textfile format when set.
	Textfile string `mapstructure:"textfile"`
}

// Validate reports the first inconsistency found in c.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: unknown database.driver %q", ErrInvalid, c.Database.Driver)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required", ErrInvalid)
	}

	if c.Database.ConnectRetries < 0 {
		return fmt.Errorf("%w: database.connect_retries must not be negative", ErrInvalid)
	}

	switch c.State.Backend {
	case "sql":
		if c.Database.Driver == "mysql" && c.Database.Name == "" {
			return fmt.Errorf("%w: database.name is required for the mysql state table", ErrInvalid)
		}
	case "redis":
	default:
		return fmt.Errorf("%w: unknown state.backend %q", ErrInvalid, c.State.Backend)
	}

	switch c.Lock.Backend {
	case "none", "local", "database", "redis":
	default:
		return fmt.Errorf("%w: unknown lock.backend %q", ErrInvalid, c.Lock.Backend)
	}

	if (c.State.Backend == "redis" || c.Lock.Backend == "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required by the redis backends", ErrInvalid)
	}

	if c.Lock.Backend == "database" && c.Database.Driver == "sqlite" {
		return fmt.Errorf("%w: sqlite has no database lock, use lock.backend local", ErrInvalid)
	}

	if len(c.Upgrade.Versions) > 0 && c.Upgrade.CurrentVersion == "" {
		return fmt.Errorf("%w: upgrade.current_version is required with upgrade.versions", ErrInvalid)
	}

	if c.Plan.Dir == "" {
		return fmt.Errorf("%w: plan.dir is required", ErrInvalid)
	}

	return nil
}
