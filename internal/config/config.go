package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/tuannm99/novastore/pkg/logger"
)

const (
	DefaultTxnsInLog     = 10
	DefaultCacheCapacity = 1024
	DefaultPageFillSlack = 16
	EnvPrefix            = "NOVASTORE"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Storage struct {
		// Path is the data file path without extension; ".db" and ".lg" are appended.
		Path          string `mapstructure:"path"`
		Transactions  bool   `mapstructure:"transactions"`
		CacheCapacity int    `mapstructure:"cache_capacity"`
		PageFillSlack int    `mapstructure:"page_fill_slack"`
	} `mapstructure:"storage"`

	WAL struct {
		TxnsInLog int  `mapstructure:"txns_in_log"`
		Compress  bool `mapstructure:"compress"`
	} `mapstructure:"wal"`

	Logging logger.Config `mapstructure:"logging"`

	Metrics struct {
		Enabled   bool   `mapstructure:"enabled"`
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.transactions", true)
	v.SetDefault("storage.cache_capacity", DefaultCacheCapacity)
	v.SetDefault("storage.page_fill_slack", DefaultPageFillSlack)
	v.SetDefault("wal.txns_in_log", DefaultTxnsInLog)
	v.SetDefault("wal.compress", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_file", "stderr")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "novastore")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in defaults (plus any NOVASTORE_* environment
// overrides).
func Default() Config {
	var cfg Config
	// Unmarshal of registered defaults cannot fail.
	_ = newViper().Unmarshal(&cfg)
	return cfg
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.WAL.TxnsInLog <= 0 {
		return fmt.Errorf("%w: wal.txns_in_log must be positive, got %d", ErrInvalidConfig, c.WAL.TxnsInLog)
	}
	if c.Storage.CacheCapacity <= 0 {
		return fmt.Errorf("%w: storage.cache_capacity must be positive, got %d", ErrInvalidConfig, c.Storage.CacheCapacity)
	}
	if c.Storage.PageFillSlack < 0 {
		return fmt.Errorf("%w: storage.page_fill_slack must not be negative, got %d", ErrInvalidConfig, c.Storage.PageFillSlack)
	}
	return nil
}
