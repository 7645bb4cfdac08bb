// Package config loads hindsight's configuration from a YAML file or
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Environment   string `mapstructure:"environment"`
	ServerAddress string `mapstructure:"server_address"`
	AuthSecret    string `mapstructure:"auth_secret"`
	NodeID        string `mapstructure:"node_id"`
	LogLevel      string `mapstructure:"log_level"`
	Backend       BackendConfig
}

// BackendConfig selects and configures the persistence backend.
type BackendConfig struct {
	// Kind is one of "memory", "file" or "sql".
	Kind string `mapstructure:"kind"`

	// FilePath is the event log path for the file backend.
	FilePath string `mapstructure:"file_path"`

	// Driver and DSN configure the SQL backend ("sqlite3" or "postgres").
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`

	// PayloadColumn is the SQL payload column type: TEXT, JSONB or BLOB.
	PayloadColumn string `mapstructure:"payload_column"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AddConfigPath(path)
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		// Continue with ENV vars and defaults when no file is present.
	}

	v.SetEnvPrefix("HINDSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server_address", "0.0.0.0:8080")
	v.SetDefault("auth_secret", "")
	v.SetDefault("node_id", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("backend.kind", "sql")
	v.SetDefault("backend.file_path", "events.log")
	v.SetDefault("backend.driver", "sqlite3")
	v.SetDefault("backend.dsn", "events.db")
	v.SetDefault("backend.payload_column", "TEXT")
}
