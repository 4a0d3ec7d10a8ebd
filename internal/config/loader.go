package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "SHINKA"

// Load reads configuration from defaults, an optional YAML file and SHINKA_* environment variables,
// later sources winning. An explicit path must exist; without one, shinka.yaml is looked up in the
// working directory and /etc/shinka and may be missing.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("shinka")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/shinka/")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/shinka.db")
	v.SetDefault("database.name", "")
	v.SetDefault("database.connect_retries", 5)

	v.SetDefault("state.backend", "sql")
	v.SetDefault("state.table", "shinka_state")
	v.SetDefault("state.prefix", "shinka:")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("lock.backend", "database")
	v.SetDefault("lock.ttl", "30s")

	v.SetDefault("upgrade.checkpoints", true)
	v.SetDefault("upgrade.legacy_version", "")
	v.SetDefault("upgrade.current_version", "")

	v.SetDefault("plan.dir", "migrations")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.textfile", "")
}
