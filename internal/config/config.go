// Package config defines huginn's runtime configuration. Config is
// loaded from a YAML file with HUGINN_-prefixed environment variable
// overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"huginn/internal/common"
)

// Config is the top-level configuration, mapped directly from the YAML
// file structure.
type Config struct {
	SupportedPairs           []PairConfig    `mapstructure:"supported_pairs"`
	FeeRate                  string          `mapstructure:"fee_rate"`
	MatchingAlgorithm        string          `mapstructure:"matching_algorithm"`
	BookSnapshotDefaultDepth int             `mapstructure:"book_snapshot_default_depth"`
	Storage                  StorageConfig   `mapstructure:"storage"`
	Transport                TransportConfig `mapstructure:"transport"`
	Logging                  LoggingConfig   `mapstructure:"logging"`
}

// PairConfig names one supported trading pair in base/quote form.
type PairConfig struct {
	Base  string `mapstructure:"base"`
	Quote string `mapstructure:"quote"`
}

// Pair converts a PairConfig entry to a common.Pair.
func (p PairConfig) Pair() common.Pair {
	return common.Pair{Base: p.Base, Quote: p.Quote}
}

// StorageConfig names the durable store's DSN. The driver (sqlite vs
// postgres) is inferred from the DSN's scheme by internal/storage.Open.
type StorageConfig struct {
	DSN string `mapstructure:"dsn"`
}

// TransportConfig configures the TCP wire server.
type TransportConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// LoggingConfig configures zerolog's global level. Format is loaded but
// not applied: huginnd always writes zerolog's JSON output to stderr.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from path with HUGINN_-prefixed environment
// variable overrides (e.g. HUGINN_STORAGE_DSN overrides storage.dsn).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HUGINN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fee_rate", "0.001")
	v.SetDefault("matching_algorithm", "fifo")
	v.SetDefault("book_snapshot_default_depth", 20)
	v.SetDefault("storage.dsn", "huginn.sqlite")
	v.SetDefault("transport.listen_address", "0.0.0.0:9001")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks required fields and value ranges: at least one
// supported pair, a known matching algorithm, a positive snapshot
// depth, and non-empty storage/transport addresses.
func (c *Config) Validate() error {
	if len(c.SupportedPairs) == 0 {
		return fmt.Errorf("supported_pairs must name at least one pair")
	}
	for _, p := range c.SupportedPairs {
		if p.Base == "" || p.Quote == "" {
			return fmt.Errorf("supported_pairs entries require both base and quote")
		}
	}
	switch strings.ToLower(c.MatchingAlgorithm) {
	case "fifo", "prorata", "pro_rata":
	default:
		return fmt.Errorf("matching_algorithm must be \"fifo\" or \"pro_rata\", got %q", c.MatchingAlgorithm)
	}
	if c.BookSnapshotDefaultDepth <= 0 {
		return fmt.Errorf("book_snapshot_default_depth must be > 0")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Transport.ListenAddress == "" {
		return fmt.Errorf("transport.listen_address is required")
	}
	return nil
}
