package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appName   = "digidex"
	envPrefix = "DIGIDEX"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Data   DataConfig   `mapstructure:"data"`
	API    APIConfig    `mapstructure:"api"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
	// SQLitePath is left empty to let the sqlite package resolve it.
	SQLitePath      string `mapstructure:"sqlite_path"`
	DownloadWorkers int    `mapstructure:"download_workers"`
}

type APIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

type CacheConfig struct {
	Duration      time.Duration `mapstructure:"duration"`
	MemoryEntries int           `mapstructure:"memory_entries"`
	MemoryBytes   int64         `mapstructure:"memory_bytes"`
	DiskBytes     int64         `mapstructure:"disk_bytes"`
}

// AuthConfig enables bearer token checks when Secret is set.
type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

func (a AuthConfig) Enabled() bool {
	return a.Secret != ""
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ImageDir holds the per-item image files of the local store.
func (c *Config) ImageDir() string {
	return filepath.Join(c.Data.Dir, "images")
}

// HTTPCacheDir holds the on-disk response cache of the image cache.
func (c *Config) HTTPCacheDir() string {
	return filepath.Join(c.Data.Dir, "http-cache")
}

// Load reads configuration from path, or from config.yaml in the user config
// directory when path is empty. A missing default file is not an error.
// Every key can be overridden by a DIGIDEX_ environment variable, with dots
// replaced by underscores (DIGIDEX_SERVER_ADDR).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("data.dir", dataDir())
	v.SetDefault("data.sqlite_path", "")
	v.SetDefault("data.download_workers", 4)

	v.SetDefault("api.base_url", "https://digimon-api.vercel.app")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.max_bytes", 20<<20)

	v.SetDefault("cache.duration", 300*time.Second)
	v.SetDefault("cache.memory_entries", 100)
	v.SetDefault("cache.memory_bytes", 50<<20)
	v.SetDefault("cache.disk_bytes", 100<<20)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must not be empty")
	}
	if c.Cache.Duration <= 0 {
		return fmt.Errorf("cache.duration must be positive, got %s", c.Cache.Duration)
	}
	if c.Data.DownloadWorkers <= 0 {
		return fmt.Errorf("data.download_workers must be positive, got %d", c.Data.DownloadWorkers)
	}
	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appName)
	}
	return "." + appName
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", appName)
	}
	return "." + appName
}
