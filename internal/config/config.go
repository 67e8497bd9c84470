// =============================================================================
// DAEMON CONFIGURATION
// =============================================================================
//
// gdplogd reads one YAML file. Every key is optional:
//
//   data_dir: /var/swarm/gdp/glogs
//   backend: disk
//   debug: "warn,storage=debug"
//   policy:
//     allow_gaps: false
//     allow_duplicates: false
//     disable_tidx_on_error: true
//   segment:
//     max_size: 268435456
//     sync_on_append: false
//     max_open: 16
//   cache:
//     ridx_entries: 1024
//   admin:
//     addr: ":8080"
//     read_timeout: 30s
//     write_timeout: 30s
//   metrics:
//     enabled: true
//     namespace: gdplogd
//
// PRECEDENCE (highest to lowest):
//   1. Command-line flags
//   2. Environment (GDPLOGD_DATA_DIR, GDPLOGD_ADMIN_ADDR, GDPLOGD_DEBUG)
//   3. Config file
//   4. Defaults
//
// =============================================================================

package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// Environment variables that override the file.
const (
	EnvDataDir   = "GDPLOGD_DATA_DIR"
	EnvAdminAddr = "GDPLOGD_ADMIN_ADDR"
	EnvDebug     = "GDPLOGD_DEBUG"
)

// DefaultDataDir is where logs live when nothing else is configured.
const DefaultDataDir = "/var/swarm/gdp/glogs"

// Config is the daemon configuration file.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Backend string        `yaml:"backend"`
	Debug   string        `yaml:"debug"`
	Policy  PolicyConfig  `yaml:"policy"`
	Segment SegmentConfig `yaml:"segment"`
	Cache   CacheConfig   `yaml:"cache"`
	Admin   AdminConfig   `yaml:"admin"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// PolicyConfig maps onto storage.DurabilityPolicy.
type PolicyConfig struct {
	AllowGaps          bool `yaml:"allow_gaps"`
	AllowDuplicates    bool `yaml:"allow_duplicates"`
	DisableTidxOnError bool `yaml:"disable_tidx_on_error"`
}

// SegmentConfig tunes segment files.
type SegmentConfig struct {
	// MaxSize rotates segments at this many bytes; 0 never rotates.
	MaxSize      int64 `yaml:"max_size"`
	SyncOnAppend bool  `yaml:"sync_on_append"`
	MaxOpen      int   `yaml:"max_open"`
}

// CacheConfig sizes in-memory caches.
type CacheConfig struct {
	RidxEntries int `yaml:"ridx_entries"`
}

// AdminConfig configures the admin HTTP listener. An empty Addr disables it.
type AdminConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := storage.DefaultPolicy()
	opts := storage.DefaultLogOptions()
	return &Config{
		DataDir: DefaultDataDir,
		Backend: storage.DiskBackendKind,
		Policy: PolicyConfig{
			AllowGaps:          policy.AllowGaps,
			AllowDuplicates:    policy.AllowDuplicates,
			DisableTidxOnError: policy.DisableTimestampIndexOnError,
		},
		Segment: SegmentConfig{
			MaxSize:      opts.MaxSegmentSize,
			SyncOnAppend: opts.SyncOnAppend,
			MaxOpen:      opts.MaxOpenSegments,
		},
		Cache: CacheConfig{RidxEntries: opts.IndexCacheSize},
		Admin: AdminConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "gdplogd"},
	}
}

// Load reads path on top of the defaults and applies the environment. A
// missing file is not an error; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err):
			slog.Debug("config file not found, using defaults", "component", "config", "path", path)
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv(EnvAdminAddr); ok {
		c.Admin.Addr = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		c.Debug = v
	}
}

// DurabilityPolicy returns the storage policy.
func (c *Config) DurabilityPolicy() storage.DurabilityPolicy {
	return storage.DurabilityPolicy{
		AllowGaps:                    c.Policy.AllowGaps,
		AllowDuplicates:              c.Policy.AllowDuplicates,
		DisableTimestampIndexOnError: c.Policy.DisableTidxOnError,
	}
}

// StoreOptions maps the configuration onto storage.Init options.
func (c *Config) StoreOptions(logger *slog.Logger) storage.Options {
	opts := storage.DefaultOptions(c.DataDir)
	opts.Backend = c.Backend
	opts.Policy = c.DurabilityPolicy()
	opts.LogOptions = storage.LogOptions{
		MaxSegmentSize:  c.Segment.MaxSize,
		SyncOnAppend:    c.Segment.SyncOnAppend,
		MaxOpenSegments: c.Segment.MaxOpen,
		IndexCacheSize:  c.Cache.RidxEntries,
	}
	opts.Logger = logger
	return opts
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
