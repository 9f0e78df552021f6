// File: internal/config/config.go
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the tunables for mounting and serving a volume.
type Config struct {
	CachePages        int  `mapstructure:"cache_pages"`
	PageSpan          int  `mapstructure:"page_span"`
	WriteRetries      int  `mapstructure:"write_retries"`
	Workers           int  `mapstructure:"workers"`
	RequestQueue      int  `mapstructure:"request_queue"`
	CompactTombstones bool `mapstructure:"compact_tombstones"`
}

// Load loads configuration using Viper
func Load() (*Config, error) {
	viper.SetConfigName("indexfs-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.indexfs")
	viper.AddConfigPath("/etc/indexfs")

	// Set defaults
	viper.SetDefault("cache_pages", 128)
	viper.SetDefault("page_span", 8)
	viper.SetDefault("write_retries", 3)
	viper.SetDefault("workers", 4)
	viper.SetDefault("request_queue", 64)
	viper.SetDefault("compact_tombstones", false)

	// Allow environment variables
	viper.SetEnvPrefix("INDEXFS")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}
