package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/msto63/mediaprep/pkg/core/cache"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "MEDIAPREP_"

// Config holds the complete application configuration
type Config struct {
	General GeneralConfig `toml:"general"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store" envPrefix:"STORE_"`
	MLM     MLMConfig     `toml:"mlm" envPrefix:"MLM_"`
}

// GeneralConfig holds general application settings
type GeneralConfig struct {
	Name        string `toml:"name" env:"NAME"`
	Environment string `toml:"environment" env:"ENVIRONMENT"`
	LogLevel    string `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string `toml:"log_format" env:"LOG_FORMAT"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string     `toml:"host" env:"HOST"`
	Port            int        `toml:"port" env:"PORT"`
	ReadTimeout     Duration   `toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    Duration   `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout Duration   `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxRequestBytes int64      `toml:"max_request_bytes" env:"MAX_REQUEST_BYTES"`
	CORS            CORSConfig `toml:"cors" envPrefix:"CORS_"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `toml:"enabled" env:"ENABLED"`
	AllowedOrigins []string `toml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// StoreConfig holds run history settings
type StoreConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Path    string `toml:"path" env:"PATH"`
}

// MLMConfig holds the masked-language-model endpoint used by text augmentation
type MLMConfig struct {
	Enabled bool     `toml:"enabled" env:"ENABLED"`
	URL     string   `toml:"url" env:"URL"`
	Model   string   `toml:"model" env:"MODEL"`
	Timeout Duration `toml:"timeout" env:"TIMEOUT"`

	// Predictions are cached per masked sentence
	CacheSize int      `toml:"cache_size" env:"CACHE_SIZE"`
	CacheTTL  Duration `toml:"cache_ttl" env:"CACHE_TTL"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a configuration with every default applied and the
// environment overrides on top.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.Store.Enabled = true
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads configuration from a TOML file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	cfg := Config{Store: StoreConfig{Enabled: true}}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.Store.Path = os.ExpandEnv(cfg.Store.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration from the MEDIAPREP_CONFIG environment
// variable or the default locations. Without any file the defaults are used.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG")
	if path == "" {
		path = findDefault()
	}

	if path == "" {
		return Default()
	}

	return Load(path)
}

func findDefault() string {
	defaultPaths := []string{
		"./configs/config.toml",
		"./config.toml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		defaultPaths = append(defaultPaths, filepath.Join(home, ".config/mediaprep/config.toml"))
	}
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyEnv overlays MEDIAPREP_* environment variables
func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// General
	if c.General.Name == "" {
		c.General.Name = "mediaprep"
	}
	if c.General.Environment == "" {
		c.General.Environment = "development"
	}
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = "json"
	}

	// Server
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 30 * time.Second
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout.Duration = 120 * time.Second
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout.Duration = 10 * time.Second
	}
	if c.Server.MaxRequestBytes == 0 {
		c.Server.MaxRequestBytes = 64 << 20
	}
	if len(c.Server.CORS.AllowedOrigins) == 0 {
		c.Server.CORS.AllowedOrigins = []string{"*"}
	}

	// Store
	if c.Store.Path == "" {
		c.Store.Path = "./data/mediaprep.db"
	}

	// MLM
	if c.MLM.URL == "" {
		c.MLM.URL = "http://localhost:11434"
	}
	if c.MLM.Model == "" {
		c.MLM.Model = "mistral:7b"
	}
	if c.MLM.Timeout.Duration == 0 {
		c.MLM.Timeout.Duration = 30 * time.Second
	}
	cacheDefaults := cache.DefaultConfig()
	if c.MLM.CacheSize == 0 {
		c.MLM.CacheSize = cacheDefaults.MaxItems
	}
	if c.MLM.CacheTTL.Duration == 0 {
		c.MLM.CacheTTL.Duration = cacheDefaults.TTL
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if !logging.ValidLevel(c.General.LogLevel) {
		return fmt.Errorf("invalid log level: %q", c.General.LogLevel)
	}
	if c.General.LogFormat != "json" && c.General.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %q (want json or text)", c.General.LogFormat)
	}
	if c.Server.MaxRequestBytes < 0 {
		return fmt.Errorf("invalid max_request_bytes: %d", c.Server.MaxRequestBytes)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store enabled without a path")
	}
	if c.MLM.Enabled && c.MLM.URL == "" {
		return fmt.Errorf("mlm enabled without a url")
	}
	return nil
}

// Address returns the listen address of the HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
