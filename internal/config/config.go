package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Library   LibraryConfig   `mapstructure:"library"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// LibraryConfig holds media library configuration.
type LibraryConfig struct {
	// RescanCron is the cron expression for periodic disk rescans.
	RescanCron string `mapstructure:"rescan_cron"`
	// RemoveEmptyFolders deletes empty artist folders after a scan.
	RemoveEmptyFolders bool `mapstructure:"remove_empty_folders"`
	// MinimumFileSize is the smallest file size in bytes treated as real
	// media rather than a sample.
	MinimumFileSize int64 `mapstructure:"minimum_file_size"`
	// Watch enables filesystem watching of artist folders, triggering a
	// rescan when files change between scheduled scans.
	Watch bool `mapstructure:"watch"`
}

// DownloadsConfig holds download-client tracking configuration.
type DownloadsConfig struct {
	// PollCron is the cron expression for download-client poll cycles.
	PollCron string `mapstructure:"poll_cron"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8686,
		},
		Database: DatabaseConfig{
			Path: "./data/driftarr.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Library: LibraryConfig{
			RescanCron:         "0 3 * * *",
			RemoveEmptyFolders: false,
			MinimumFileSize:    1 << 20,
			Watch:              true,
		},
		Downloads: DownloadsConfig{
			PollCron: "* * * * *",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.driftarr")
	}

	v.SetEnvPrefix("DRIFTARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.path", def.Logging.Path)
	v.SetDefault("library.rescan_cron", def.Library.RescanCron)
	v.SetDefault("library.remove_empty_folders", def.Library.RemoveEmptyFolders)
	v.SetDefault("library.minimum_file_size", def.Library.MinimumFileSize)
	v.SetDefault("library.watch", def.Library.Watch)
	v.SetDefault("downloads.poll_cron", def.Downloads.PollCron)
}
