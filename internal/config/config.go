package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"affected/internal/errors"
	"affected/internal/resolver"
	"affected/internal/suites"
)

// Dir is the per-project configuration directory.
const Dir = ".affected"

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// Config represents the complete affected configuration
type Config struct {
	Version int `json:"version" yaml:"version" toml:"version" mapstructure:"version"`

	Resolve ResolveConfig `json:"resolve" yaml:"resolve" toml:"resolve" mapstructure:"resolve"`
	Scan    ScanConfig    `json:"scan" yaml:"scan" toml:"scan" mapstructure:"scan"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" toml:"cache" mapstructure:"cache"`
	Tests   TestsConfig   `json:"tests" yaml:"tests" toml:"tests" mapstructure:"tests"`
	Changes ChangesConfig `json:"changes" yaml:"changes" toml:"changes" mapstructure:"changes"`
	Watch   WatchConfig   `json:"watch" yaml:"watch" toml:"watch" mapstructure:"watch"`
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging" mapstructure:"logging"`
}

// ResolveConfig contains module resolution settings
type ResolveConfig struct {
	Extensions                []string            `json:"extensions" yaml:"extensions" toml:"extensions" mapstructure:"extensions"`
	ModuleDirectories         []string            `json:"moduleDirectories" yaml:"moduleDirectories" toml:"moduleDirectories" mapstructure:"moduleDirectories"`
	MainFields                []string            `json:"mainFields" yaml:"mainFields" toml:"mainFields" mapstructure:"mainFields"`
	Alias                     map[string][]string `json:"alias,omitempty" yaml:"alias,omitempty" toml:"alias,omitempty" mapstructure:"alias"`
	BuiltinModules            bool                `json:"builtinModules" yaml:"builtinModules" toml:"builtinModules" mapstructure:"builtinModules"`
	PreserveSymlinks          bool                `json:"preserveSymlinks" yaml:"preserveSymlinks" toml:"preserveSymlinks" mapstructure:"preserveSymlinks"`
	TSConfig                  string              `json:"tsconfig,omitempty" yaml:"tsconfig,omitempty" toml:"tsconfig,omitempty" mapstructure:"tsconfig"`
	TraverseModuleDirectories bool                `json:"traverseModuleDirectories" yaml:"traverseModuleDirectories" toml:"traverseModuleDirectories" mapstructure:"traverseModuleDirectories"`
	// CaseSensitivity is "auto", "sensitive" or "insensitive".
	CaseSensitivity string `json:"caseSensitivity" yaml:"caseSensitivity" toml:"caseSensitivity" mapstructure:"caseSensitivity"`
	ReportCycles    bool   `json:"reportCycles" yaml:"reportCycles" toml:"reportCycles" mapstructure:"reportCycles"`
	// Strategy is "reverse" or "forward".
	Strategy string `json:"strategy" yaml:"strategy" toml:"strategy" mapstructure:"strategy"`
}

// ScanConfig contains source scanning limits
type ScanConfig struct {
	MaxFileSizeBytes int64 `json:"maxFileSizeBytes" yaml:"maxFileSizeBytes" toml:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes"`
	ReadTimeoutMs    int   `json:"readTimeoutMs" yaml:"readTimeoutMs" toml:"readTimeoutMs" mapstructure:"readTimeoutMs"`
	// Workers bounds concurrent scans; 0 means one per CPU.
	Workers int `json:"workers" yaml:"workers" toml:"workers" mapstructure:"workers"`
}

// CacheConfig contains persistent scan cache settings
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
	// Path is relative to the project root unless absolute.
	Path       string `json:"path" yaml:"path" toml:"path" mapstructure:"path"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays" toml:"maxAgeDays" mapstructure:"maxAgeDays"`
}

// TestsConfig contains test entry discovery settings
type TestsConfig struct {
	Patterns []string `json:"patterns" yaml:"patterns" toml:"patterns" mapstructure:"patterns"`
	Ignore   []string `json:"ignore" yaml:"ignore" toml:"ignore" mapstructure:"ignore"`
	// Manifest is the suite manifest, relative to the project root.
	Manifest string `json:"manifest" yaml:"manifest" toml:"manifest" mapstructure:"manifest"`
}

// ChangesConfig contains the defaults for collecting changed files from git
type ChangesConfig struct {
	Base      string `json:"base" yaml:"base" toml:"base" mapstructure:"base"`
	Staged    bool   `json:"staged" yaml:"staged" toml:"staged" mapstructure:"staged"`
	Untracked bool   `json:"untracked" yaml:"untracked" toml:"untracked" mapstructure:"untracked"`
}

// WatchConfig contains watch mode settings
type WatchConfig struct {
	DebounceMs     int      `json:"debounceMs" yaml:"debounceMs" toml:"debounceMs" mapstructure:"debounceMs"`
	IgnorePatterns []string `json:"ignorePatterns" yaml:"ignorePatterns" toml:"ignorePatterns" mapstructure:"ignorePatterns"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Format is "human" or "json".
	Format string `json:"format" yaml:"format" toml:"format" mapstructure:"format"`
	Level  string `json:"level" yaml:"level" toml:"level" mapstructure:"level"`
	// File, when set, receives a copy of every log record.
	File string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty" mapstructure:"file"`
	// MaxSize rotates File when it grows past this size, e.g. "10MB".
	MaxSize    string `json:"maxSize,omitempty" yaml:"maxSize,omitempty" toml:"maxSize,omitempty" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups,omitempty" yaml:"maxBackups,omitempty" toml:"maxBackups,omitempty" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Resolve: ResolveConfig{
			Extensions:        append([]string(nil), resolver.DefaultExtensions...),
			ModuleDirectories: []string{"node_modules"},
			MainFields:        []string{"main"},
			BuiltinModules:    true,
			CaseSensitivity:   "auto",
			Strategy:          "reverse",
		},
		Scan: ScanConfig{
			MaxFileSizeBytes: 4 << 20,
			ReadTimeoutMs:    10000,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Path:       Dir + "/scan-cache.db",
			MaxAgeDays: 30,
		},
		Tests: TestsConfig{
			Patterns: append([]string(nil), suites.DefaultPatterns...),
			Ignore:   append([]string(nil), suites.DefaultIgnore...),
			Manifest: suites.ManifestName,
		},
		Changes: ChangesConfig{
			Untracked: true,
		},
		Watch: WatchConfig{
			DebounceMs:     300,
			IgnorePatterns: []string{"**/node_modules", "**/.git", "**/" + Dir},
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxBackups: 3,
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("resolve.extensions", d.Resolve.Extensions)
	v.SetDefault("resolve.moduleDirectories", d.Resolve.ModuleDirectories)
	v.SetDefault("resolve.mainFields", d.Resolve.MainFields)
	v.SetDefault("resolve.builtinModules", d.Resolve.BuiltinModules)
	v.SetDefault("resolve.preserveSymlinks", d.Resolve.PreserveSymlinks)
	v.SetDefault("resolve.traverseModuleDirectories", d.Resolve.TraverseModuleDirectories)
	v.SetDefault("resolve.caseSensitivity", d.Resolve.CaseSensitivity)
	v.SetDefault("resolve.reportCycles", d.Resolve.ReportCycles)
	v.SetDefault("resolve.strategy", d.Resolve.Strategy)
	v.SetDefault("scan.maxFileSizeBytes", d.Scan.MaxFileSizeBytes)
	v.SetDefault("scan.readTimeoutMs", d.Scan.ReadTimeoutMs)
	v.SetDefault("scan.workers", d.Scan.Workers)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.maxAgeDays", d.Cache.MaxAgeDays)
	v.SetDefault("tests.patterns", d.Tests.Patterns)
	v.SetDefault("tests.ignore", d.Tests.Ignore)
	v.SetDefault("tests.manifest", d.Tests.Manifest)
	v.SetDefault("changes.base", d.Changes.Base)
	v.SetDefault("changes.staged", d.Changes.Staged)
	v.SetDefault("changes.untracked", d.Changes.Untracked)
	v.SetDefault("watch.debounceMs", d.Watch.DebounceMs)
	v.SetDefault("watch.ignorePatterns", d.Watch.IgnorePatterns)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

// LoadConfig loads configuration from .affected/config.{json,yaml,toml}.
// Values may be overridden by AFFECTED_* environment variables, e.g.
// AFFECTED_LOGGING_LEVEL=debug. A missing file yields the defaults.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(repoRoot, Dir))
	v.SetEnvPrefix("AFFECTED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.New(errors.ConfigInvalid, "failed to read config", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New(errors.ConfigInvalid, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.ConfigInvalid, err.Error(), err).
			WithDetails(map[string]string{"file": v.ConfigFileUsed()})
	}
	return &cfg, nil
}

// Path returns the config file Save writes.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, Dir, "config.json")
}

// Save writes the configuration to .affected/config.json
func (c *Config) Save(repoRoot string) error {
	if err := os.MkdirAll(filepath.Join(repoRoot, Dir), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(Path(repoRoot), append(data, '\n'), 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}
	for _, ext := range c.Resolve.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return &ConfigError{Field: "resolve.extensions", Message: fmt.Sprintf("%q must start with '.'", ext)}
		}
	}
	switch strings.ToLower(c.Resolve.CaseSensitivity) {
	case "", "auto", "sensitive", "insensitive":
	default:
		return &ConfigError{Field: "resolve.caseSensitivity", Message: "must be auto, sensitive or insensitive"}
	}
	switch strings.ToLower(c.Resolve.Strategy) {
	case "", "reverse", "forward":
	default:
		return &ConfigError{Field: "resolve.strategy", Message: "must be reverse or forward"}
	}
	if c.Scan.MaxFileSizeBytes < 0 {
		return &ConfigError{Field: "scan.maxFileSizeBytes", Message: "must not be negative"}
	}
	if c.Scan.ReadTimeoutMs < 0 {
		return &ConfigError{Field: "scan.readTimeoutMs", Message: "must not be negative"}
	}
	if c.Scan.Workers < 0 {
		return &ConfigError{Field: "scan.workers", Message: "must not be negative"}
	}
	if c.Watch.DebounceMs < 0 {
		return &ConfigError{Field: "watch.debounceMs", Message: "must not be negative"}
	}
	if err := suites.Validate(c.Tests.Patterns); err != nil {
		return &ConfigError{Field: "tests.patterns", Message: err.Error()}
	}
	if err := suites.Validate(c.Tests.Ignore); err != nil {
		return &ConfigError{Field: "tests.ignore", Message: err.Error()}
	}
	if err := suites.Validate(c.Watch.IgnorePatterns); err != nil {
		return &ConfigError{Field: "watch.ignorePatterns", Message: err.Error()}
	}
	switch c.Logging.Format {
	case "", "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be human or json"}
	}
	return nil
}

// ResolverConfig builds the resolver configuration for rootDir.
func (c *Config) ResolverConfig(rootDir string) resolver.Config {
	r := c.Resolve
	cfg := resolver.Config{
		Extensions:        r.Extensions,
		ModuleDirectories: r.ModuleDirectories,
		RootDir:           rootDir,
		MainFields:        r.MainFields,
		Alias:             r.Alias,
		BuiltinModules:    r.BuiltinModules,
		PreserveSymlinks:  r.PreserveSymlinks,
		TSConfig:          r.TSConfig,
	}
	if cfg.TSConfig == "" {
		if _, err := os.Stat(filepath.Join(rootDir, "tsconfig.json")); err == nil {
			cfg.TSConfig = "tsconfig.json"
		}
	}
	return cfg
}

// ReadTimeout returns the scan read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Scan.ReadTimeoutMs) * time.Millisecond
}

// CachePath returns the absolute scan cache path for repoRoot.
func (c *Config) CachePath(repoRoot string) string {
	if filepath.IsAbs(c.Cache.Path) {
		return c.Cache.Path
	}
	return filepath.Join(repoRoot, filepath.FromSlash(c.Cache.Path))
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
