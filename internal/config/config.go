package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/utils"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global    GlobalConfig    `yaml:"global" toml:"global"`
	Prefetch  PrefetchConfig  `yaml:"prefetch" toml:"prefetch"`
	Source    SourceConfig    `yaml:"source" toml:"source"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Circuit   CircuitConfig   `yaml:"circuit" toml:"circuit"`
	Favorites FavoritesConfig `yaml:"favorites" toml:"favorites"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level" toml:"log_level"`
	LogFormat   string `yaml:"log_format" toml:"log_format"`
	LogFile     string `yaml:"log_file" toml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`
}

// PrefetchConfig represents prefetch cache settings
type PrefetchConfig struct {
	Capacity       int           `yaml:"capacity" toml:"capacity"`
	PerItemTimeout time.Duration `yaml:"per_item_timeout" toml:"per_item_timeout"`
	BatchTimeout   time.Duration `yaml:"batch_timeout" toml:"batch_timeout"`
}

// SourceConfig represents image folder settings
type SourceConfig struct {
	Extensions []string      `yaml:"extensions" toml:"extensions"`
	SortOrder  string        `yaml:"sort_order" toml:"sort_order"`
	Watch      bool          `yaml:"watch" toml:"watch"`
	Debounce   time.Duration `yaml:"debounce" toml:"debounce"`
}

// StorageConfig represents image loading settings
type StorageConfig struct {
	MaxItemSize  string `yaml:"max_item_size" toml:"max_item_size"`
	VerifyDecode bool   `yaml:"verify_decode" toml:"verify_decode"`
}

// CircuitConfig represents circuit breaker settings for the image folder
type CircuitConfig struct {
	Enabled          bool          `yaml:"enabled" toml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold" toml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" toml:"open_timeout"`
}

// FavoritesConfig represents favorites folder settings
type FavoritesConfig struct {
	Directory string `yaml:"directory" toml:"directory"`
	Overwrite bool   `yaml:"overwrite" toml:"overwrite"`
}

// NewDefault returns a configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Prefetch: PrefetchConfig{
			Capacity:       11,
			PerItemTimeout: 5 * time.Second,
			BatchTimeout:   30 * time.Second,
		},
		Source: SourceConfig{
			Extensions: []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"},
			SortOrder:  "name",
			Watch:      true,
			Debounce:   250 * time.Millisecond,
		},
		Storage: StorageConfig{
			MaxItemSize:  "256MB",
			VerifyDecode: true,
		},
		Circuit: CircuitConfig{
			Enabled:          true,
			FailureThreshold: 5,
			OpenTimeout:      10 * time.Second,
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "artfave", "config.yaml")
}

// Load builds the effective configuration: defaults, then the file at path
// (if any), then environment overrides, then validation.
func Load(path string) (*Configuration, error) {
	cfg := NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or TOML file, chosen by
// extension. Keys absent from the file keep their current values.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("file", filename)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		err = yaml.UnmarshalStrict(data, c)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename)
	}
	return nil
}

// LoadFromEnv applies ARTFAVE_* environment overrides. A malformed value is
// an error rather than silently ignored.
func (c *Configuration) LoadFromEnv() error {
	var firstErr error
	set := func(name string, apply func(string) error) {
		val, ok := os.LookupEnv(name)
		if !ok || val == "" || firstErr != nil {
			return
		}
		if err := apply(val); err != nil {
			firstErr = errors.Wrap(err, errors.ErrCodeInvalidConfig, "bad environment override").
				WithComponent("config").
				WithContext("variable", name)
		}
	}
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err == nil {
				*dst = d
			}
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err == nil {
				*dst = b
			}
			return err
		}
	}

	// Global settings
	set("ARTFAVE_LOG_LEVEL", str(&c.Global.LogLevel))
	set("ARTFAVE_LOG_FORMAT", str(&c.Global.LogFormat))
	set("ARTFAVE_LOG_FILE", str(&c.Global.LogFile))
	set("ARTFAVE_METRICS_ADDR", str(&c.Global.MetricsAddr))

	// Prefetch settings
	set("ARTFAVE_CAPACITY", func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			c.Prefetch.Capacity = n
		}
		return err
	})
	set("ARTFAVE_PER_ITEM_TIMEOUT", dur(&c.Prefetch.PerItemTimeout))
	set("ARTFAVE_BATCH_TIMEOUT", dur(&c.Prefetch.BatchTimeout))

	// Source settings
	set("ARTFAVE_EXTENSIONS", func(v string) error {
		c.Source.Extensions = strings.Split(v, ",")
		return nil
	})
	set("ARTFAVE_SORT_ORDER", str(&c.Source.SortOrder))
	set("ARTFAVE_WATCH", boolean(&c.Source.Watch))

	// Storage, circuit and favorites
	set("ARTFAVE_MAX_ITEM_SIZE", str(&c.Storage.MaxItemSize))
	set("ARTFAVE_VERIFY_DECODE", boolean(&c.Storage.VerifyDecode))
	set("ARTFAVE_CIRCUIT_ENABLED", boolean(&c.Circuit.Enabled))
	set("ARTFAVE_FAVORITES_DIR", str(&c.Favorites.Directory))
	set("ARTFAVE_FAVORITES_OVERWRITE", boolean(&c.Favorites.Overwrite))

	return firstErr
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config").
			WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory").
			WithComponent("config")
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").
			WithComponent("config").
			WithContext("file", filename)
	}
	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeConfigValidation, format, args...).
			WithComponent("config").
			WithOperation("validate")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: TRACE, DEBUG, INFO, WARN, ERROR, FATAL)", c.Global.LogLevel)
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Prefetch.Capacity < 1 {
		return invalid("prefetch.capacity must be at least 1, got %d", c.Prefetch.Capacity)
	}
	if c.Prefetch.PerItemTimeout <= 0 {
		return invalid("prefetch.per_item_timeout must be positive")
	}
	if c.Prefetch.BatchTimeout <= 0 {
		return invalid("prefetch.batch_timeout must be positive")
	}
	if c.Prefetch.PerItemTimeout > c.Prefetch.BatchTimeout {
		return invalid("prefetch.per_item_timeout (%s) exceeds batch_timeout (%s)",
			c.Prefetch.PerItemTimeout, c.Prefetch.BatchTimeout)
	}

	if len(utils.NormalizeExtensions(c.Source.Extensions)) == 0 {
		return invalid("source.extensions must name at least one extension")
	}
	switch strings.ToLower(c.Source.SortOrder) {
	case "", "name", "mtime":
	default:
		return invalid("invalid source.sort_order: %s (must be name or mtime)", c.Source.SortOrder)
	}
	if c.Source.Debounce < 0 {
		return invalid("source.debounce cannot be negative")
	}

	if _, err := c.MaxItemSizeBytes(); err != nil {
		return invalid("invalid storage.max_item_size: %v", err)
	}

	if c.Circuit.Enabled && c.Circuit.OpenTimeout < 0 {
		return invalid("circuit.open_timeout cannot be negative")
	}
	return nil
}

// MaxItemSizeBytes parses Storage.MaxItemSize; empty means no explicit limit.
func (c *Configuration) MaxItemSizeBytes() (int64, error) {
	if strings.TrimSpace(c.Storage.MaxItemSize) == "" {
		return 0, nil
	}
	n, err := utils.ParseBytes(c.Storage.MaxItemSize)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

// LoggerConfig translates the global section into logger settings writing to
// out unless a log file is configured. Call after Validate.
func (c *Configuration) LoggerConfig(out io.Writer) *utils.StructuredLoggerConfig {
	level, _ := utils.ParseLogLevel(c.Global.LogLevel)
	format, _ := utils.ParseLogFormat(c.Global.LogFormat)
	return &utils.StructuredLoggerConfig{
		Level:  level,
		Output: out,
		Format: format,
		File:   c.Global.LogFile,
	}
}
