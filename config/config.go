// Package config loads the daemon configuration from a TOML file and
// applies the documented defaults and cross-field validation (e.g.
// man_repl >= min_repl).
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Daemon describes one MDS or OSD cluster member as listed in the
// config file's mds[]/osd[] arrays.
type Daemon struct {
	Host    string `toml:"host"`
	Port    uint16 `toml:"port"`
	BaseDir string `toml:"base_dir"`
}

// Config is the fully parsed, defaulted, and validated configuration
// for a redfish process.
type Config struct {
	MstorPath       string `toml:"mstor_path"`
	MstorCacheMB    int    `toml:"mstor_cache_mb"`
	MstorIOThreads  int    `toml:"mstor_io_threads"`
	MstorCreate     bool   `toml:"mstor_create"`
	MinRepl         int    `toml:"min_repl"`
	ManRepl         int    `toml:"man_repl"`

	OstorPath    string `toml:"ostor_path"`
	OstorMaxOpen int    `toml:"ostor_max_open"`
	OstorTimeo   int    `toml:"ostor_timeo"`

	MetricsPort int `toml:"metrics_port"`

	MDS []Daemon `toml:"mds"`
	OSD []Daemon `toml:"osd"`
}

// Defaults, per the config contract: the cache size defaults to 1024MB
// and is capped at 4096MB on 32-bit builds (where uintptr is 4 bytes).
const (
	DefaultMstorCacheMB   = 1024
	DefaultMstorCacheMB32 = 4096
	DefaultMstorIOThreads = 16
	DefaultMinRepl        = 3
	DefaultManRepl        = 3
	DefaultMetricsPort    = 9100
)

func is32Bit() bool {
	return (^uintptr(0))>>32 == 0
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	cacheMB := DefaultMstorCacheMB
	if is32Bit() && cacheMB > DefaultMstorCacheMB32 {
		cacheMB = DefaultMstorCacheMB32
	}
	return &Config{
		MstorCacheMB:   cacheMB,
		MstorIOThreads: DefaultMstorIOThreads,
		MstorCreate:    true,
		MinRepl:        DefaultMinRepl,
		ManRepl:        DefaultManRepl,
		MetricsPort:    DefaultMetricsPort,
	}
}

// Load parses the TOML file at path, overlaying it onto Default(), then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if cfg.MstorCacheMB <= 0 {
		cfg.MstorCacheMB = DefaultMstorCacheMB
	}
	if is32Bit() && cfg.MstorCacheMB > DefaultMstorCacheMB32 {
		cfg.MstorCacheMB = DefaultMstorCacheMB32
	}
	if cfg.MstorIOThreads <= 0 {
		cfg.MstorIOThreads = DefaultMstorIOThreads
	}
	if cfg.MetricsPort <= 0 {
		cfg.MetricsPort = DefaultMetricsPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the config's cross-field invariants.
func (c *Config) Validate() error {
	if c.ManRepl < c.MinRepl {
		return fmt.Errorf("config: man_repl (%d) must be >= min_repl (%d)", c.ManRepl, c.MinRepl)
	}
	if c.OstorMaxOpen < 0 {
		return fmt.Errorf("config: ostor_max_open must be non-negative")
	}
	return nil
}
