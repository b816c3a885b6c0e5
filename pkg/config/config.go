package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/srg/brushlink/internal/device"
	"github.com/srg/brushlink/internal/discovery"
	"github.com/srg/brushlink/internal/integration"
	"github.com/srg/brushlink/internal/sonicare"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "BRUSHLINK"

// Bluetooth backends.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	Log             LogConfig           `mapstructure:"log" yaml:"log"`
	Bluetooth       BluetoothConfig     `mapstructure:"bluetooth" yaml:"bluetooth"`
	Driver          DriverConfig        `mapstructure:"driver" yaml:"driver"`
	API             APIConfig           `mapstructure:"api" yaml:"api"`
	ShutdownTimeout time.Duration       `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Entries         []integration.Entry `mapstructure:"entries" yaml:"entries"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type BluetoothConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend"`
	AllowDuplicates bool   `mapstructure:"allow_duplicates" yaml:"allow_duplicates"`
}

type DriverConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// flagKeys maps command line flags onto config keys. Flags a command does not
// declare are skipped.
var flagKeys = map[string]string{
	"log-level":        "log.level",
	"log-format":       "log.format",
	"backend":          "bluetooth.backend",
	"allow-duplicates": "bluetooth.allow_duplicates",
	"connect-timeout":  "driver.connect_timeout",
	"poll-interval":    "driver.poll_interval",
	"api":              "api.enabled",
	"listen":           "api.listen",
	"shutdown-timeout": "shutdown_timeout",
}

// Load builds the effective configuration from defaults, the config file,
// BRUSHLINK_* environment variables and cmd's flags, in increasing priority.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".brushlink"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.assignEntryIDs()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults alone always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	driver := sonicare.DefaultOptions()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("bluetooth.backend", BackendGoBLE)
	v.SetDefault("bluetooth.allow_duplicates", true)
	v.SetDefault("driver.connect_timeout", driver.ConnectTimeout)
	v.SetDefault("driver.poll_interval", driver.PollInterval)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8765")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("entries", []integration.Entry{})
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagKeys {
		f := lookupFlag(cmd, flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.PersistentFlags().Lookup(name)
}

func (c *Config) assignEntryIDs() {
	for i := range c.Entries {
		if strings.TrimSpace(c.Entries[i].ID) == "" {
			c.Entries[i].ID = uuid.NewString()
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	switch c.Bluetooth.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("unknown bluetooth backend: %s (must be %s or %s)", c.Bluetooth.Backend, BackendGoBLE, BackendTinyGo)
	}

	durations := map[string]time.Duration{
		"driver.connect_timeout": c.Driver.ConnectTimeout,
		"driver.poll_interval":   c.Driver.PollInterval,
		"shutdown_timeout":       c.ShutdownTimeout,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative: %s", key, d)
		}
	}

	if c.API.Enabled && strings.TrimSpace(c.API.Listen) == "" {
		return fmt.Errorf("api.listen is empty")
	}

	ids := make(map[string]struct{}, len(c.Entries))
	var addrs []string
	for i, e := range c.Entries {
		if strings.TrimSpace(e.Address) == "" {
			return fmt.Errorf("entry %d (%s): address is empty", i, e.ID)
		}
		for _, seen := range addrs {
			if device.SameAddress(seen, e.Address) {
				return fmt.Errorf("entry %d (%s): duplicate address %s", i, e.ID, e.Address)
			}
		}
		addrs = append(addrs, e.Address)

		if _, dup := ids[e.ID]; dup {
			return fmt.Errorf("entry %d: duplicate id %s", i, e.ID)
		}
		ids[e.ID] = struct{}{}
	}

	return nil
}

// DriverOptions returns the per-toothbrush driver options.
func (c *Config) DriverOptions() sonicare.Options {
	return sonicare.Options{
		ConnectTimeout: c.Driver.ConnectTimeout,
		PollInterval:   c.Driver.PollInterval,
	}
}

// WatcherOptions returns the discovery options.
func (c *Config) WatcherOptions() discovery.Options {
	return discovery.Options{AllowDuplicates: c.Bluetooth.AllowDuplicates}
}

// NewLogger creates a configured logger instance writing to out.
func (c *Config) NewLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger
}

// WriteYAML writes the configuration as YAML.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
