// Package config loads bundlegraph configuration.
//
// Values come from, in increasing precedence: defaults, a bundlegraph.yaml
// file (searched in . and ./config unless a path is given), and
// BUNDLEGRAPH_* environment variables, where nested keys use underscores
// (BUNDLEGRAPH_REPORT_FORMAT overrides report.format).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"bundlegraph/layout"
	"bundlegraph/plan"
	"bundlegraph/report"
	"bundlegraph/rules"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "BUNDLEGRAPH"

// Config holds all settings.
type Config struct {
	// DataDir is the root directory for history and reports.
	DataDir string `mapstructure:"data_dir"`
	// DBFile is the history database, relative to DataDir unless absolute.
	DBFile string `mapstructure:"db_file"`
	// TypeCacheSize bounds the path→type cache of a session.
	TypeCacheSize int           `mapstructure:"type_cache_size"`
	Report        ReportConfig  `mapstructure:"report"`
	Build         BuildConfig   `mapstructure:"build"`
	Rules         RulesConfig   `mapstructure:"rules"`
	Logging       LoggingConfig `mapstructure:"logging"`
}

// ReportConfig controls persisted reports.
type ReportConfig struct {
	Format string `mapstructure:"format"`
	// Dir is relative to DataDir unless absolute.
	Dir string `mapstructure:"dir"`
}

// BuildConfig holds build session defaults.
type BuildConfig struct {
	Strategy    string `mapstructure:"strategy"`
	Target      string `mapstructure:"target"`
	Incremental bool   `mapstructure:"incremental"`
}

// RulesConfig controls analyze rules.
type RulesConfig struct {
	Delimiter string `mapstructure:"delimiter"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".bundlegraph")
	v.SetDefault("db_file", "history.db")
	v.SetDefault("type_cache_size", layout.DefaultTypeCacheSize)

	v.SetDefault("report.format", "json")
	v.SetDefault("report.dir", "reports")

	v.SetDefault("build.strategy", "packed")
	v.SetDefault("build.target", "StandaloneWindows64")
	v.SetDefault("build.incremental", false)

	v.SetDefault("rules.delimiter", rules.DefaultDelimiter)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}

// Load reads configuration. An empty path searches the default locations; a
// missing default file is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bundlegraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.DBFile == "" {
		return errors.New("db_file is required")
	}
	if c.TypeCacheSize < 0 {
		return fmt.Errorf("type_cache_size must not be negative, got %d", c.TypeCacheSize)
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		return fmt.Errorf("report.format: %w", err)
	}
	if _, err := plan.ParseStrategy(c.Build.Strategy); err != nil {
		return fmt.Errorf("build.strategy: %w", err)
	}
	if c.Rules.Delimiter == "" {
		return errors.New("rules.delimiter must not be empty")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// DBPath returns the history database path.
func (c *Config) DBPath() string {
	return c.resolve(c.DBFile)
}

// ReportDir returns the directory reports are written to.
func (c *Config) ReportDir() string {
	return c.resolve(c.Report.Dir)
}

// ReportFormat returns the parsed report format.
func (c *Config) ReportFormat() report.Format {
	f, _ := report.ParseFormat(c.Report.Format)
	return f
}

// Strategy returns the parsed build strategy.
func (c *Config) Strategy() plan.Strategy {
	s, _ := plan.ParseStrategy(c.Build.Strategy)
	return s
}
