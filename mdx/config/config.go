package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/mediadex/mdx"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	MediaDex MediaDexConfig `mapstructure:"mediadex"`
}

// MediaDexConfig stores mediadex specific configurations.
type MediaDexConfig struct {
	Database DatabaseConfig `mapstructure:"database"`
	Buffers  BufferConfig   `mapstructure:"buffers"`
	CacheDir string         `mapstructure:"cacheDir"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN            string `mapstructure:"dsn"`
	Type           string `mapstructure:"type"`
	MaxOpenConns   int    `mapstructure:"maxOpenConns"`
	MaxIdleConns   int    `mapstructure:"maxIdleConns"`
	ConnMaxIdleSec int    `mapstructure:"connMaxIdleSec"`
}

// BufferConfig stores the buffer cache budgets and paging bounds.
type BufferConfig struct {
	MaxBuffers      int `mapstructure:"maxBuffers"`
	MaxTotalSizeMB  int `mapstructure:"maxTotalSizeMB"`
	DefaultPageSize int `mapstructure:"defaultPageSize"`
	MaxPageSize     int `mapstructure:"maxPageSize"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("mediadex.cacheDir", internal.DefaultCacheDir)
	viper.SetDefault("mediadex.database.dsn", internal.DefaultDatabaseDSN)
	viper.SetDefault("mediadex.database.type", internal.DefaultDatabaseType)
	viper.SetDefault("mediadex.database.maxOpenConns", 4)
	viper.SetDefault("mediadex.database.maxIdleConns", 2)
	viper.SetDefault("mediadex.database.connMaxIdleSec", 300)
	viper.SetDefault("mediadex.buffers.maxBuffers", 10)
	viper.SetDefault("mediadex.buffers.maxTotalSizeMB", 500)
	viper.SetDefault("mediadex.buffers.defaultPageSize", 60)
	viper.SetDefault("mediadex.buffers.maxPageSize", 500)

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. mediadex.database.dsn becomes MEDIADEX_DATABASE_DSN

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults will be used.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
