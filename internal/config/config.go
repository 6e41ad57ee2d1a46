// Package config resolves zs configuration from config file, environment
// and command-line flags.
//
// Precedence is the usual viper order: flags over environment over config
// file over defaults. The config file is zonesync.yaml, looked up in the
// data directory, in ~/.zonesync and in the working directory; environment
// variables use the ZONESYNC_ prefix with dashes and dots mapped to
// underscores (ZONESYNC_AUTH_TOKEN, ZONESYNC_DAEMON_SYNC_INTERVAL).
//
// All local state lives under a .zonesync data directory discovered by
// walking up from the working directory, the same way version control
// tools find their repo root.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/veildb/zonesync/internal/schema"
)

const (
	// DataDirName is the per-installation data directory, discovered by
	// walking up from the working directory.
	DataDirName = ".zonesync"

	configFileName = "zonesync"
	envPrefix      = "ZONESYNC"
)

// DaemonConfig configures the background sync daemon.
type DaemonConfig struct {
	// DebounceInterval is how long a changed cache file sits in the queue
	// before it is uploaded, batching rapid edits together.
	DebounceInterval time.Duration `json:"debounce-interval"`

	// SyncInterval is how often the daemon reconciles the full cache
	// directory against the store.
	SyncInterval time.Duration `json:"sync-interval"`

	// LogMaxSizeMB and LogMaxBackups bound the rotated daemon log.
	LogMaxSizeMB  int `json:"log-max-size-mb"`
	LogMaxBackups int `json:"log-max-backups"`
}

// DashboardConfig configures the WebSocket dashboard server.
type DashboardConfig struct {
	Addr string `json:"addr"`
}

// Config represents resolved configuration for zs.
type Config struct {
	// Zone is the record store zone contacts sync into.
	Zone string `json:"zone"`

	// StoreURL selects the backend: empty for the embedded store under
	// the data directory, a libsql:// URL for a remote deployment.
	StoreURL string `json:"store-url"`

	// AuthToken authenticates against a remote store.
	AuthToken string `json:"auth-token"`

	// DataDir overrides data directory discovery.
	DataDir string `json:"data-dir"`

	Daemon    DaemonConfig    `json:"daemon"`
	Dashboard DashboardConfig `json:"dashboard"`
}

// Load returns a Config with values resolved from all sources. A missing
// config file is not an error. The returned DataDir may be empty when no
// .zonesync directory exists anywhere up the tree; callers decide whether
// that is fatal.
func Load() (*Config, error) {
	setDefaults()
	viperSetConfigFile()
	viperReadInConfig()

	cfg := &Config{}
	if err := viperUnmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = FindDataDir()
	}
	return cfg, nil
}

// BindFlags connects command-line flags to configuration keys. Flags only
// override when actually set.
func BindFlags(flags *pflag.FlagSet) {
	viper.BindPFlag("zone", flags.Lookup("zone"))
	viper.BindPFlag("store-url", flags.Lookup("store-url"))
	viper.BindPFlag("auth-token", flags.Lookup("auth-token"))
	viper.BindPFlag("data-dir", flags.Lookup("data-dir"))
}

func setDefaults() {
	viper.SetDefault("zone", schema.DefaultZone)
	viper.SetDefault("store-url", "")
	viper.SetDefault("auth-token", "")
	viper.SetDefault("data-dir", "")
	viper.SetDefault("config-dir", "")
	viper.SetDefault("daemon.debounce-interval", 200*time.Millisecond)
	viper.SetDefault("daemon.sync-interval", 30*time.Second)
	viper.SetDefault("daemon.log-max-size-mb", 10)
	viper.SetDefault("daemon.log-max-backups", 3)
	viper.SetDefault("dashboard.addr", "localhost:8377")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// viperSetConfigFile sets up viper to handle the config file.
func viperSetConfigFile() {
	viper.SetConfigName(configFileName)

	// If "config-dir" was set then use only that path.
	if cfgDir := viper.GetString("config-dir"); cfgDir != "" {
		viper.AddConfigPath(cfgDir)
		return
	}

	if dataDir := FindDataDir(); dataDir != "" {
		viper.AddConfigPath(dataDir)
	}
	if uhd, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(uhd, DataDirName))
	}
	viper.AddConfigPath(".")
}

// viperReadInConfig wraps viper.ReadInConfig, tolerating a missing file.
func viperReadInConfig() {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: config file found but not readable: %v\n", err)
		}
	}
}

// viperUnmarshal wraps viper.Unmarshal with "json" as the tag name.
func viperUnmarshal(c *Config) error {
	return viper.Unmarshal(
		c, func(dc *mapstructure.DecoderConfig) { dc.TagName = "json" },
	)
}

// FindDataDir walks up from the working directory looking for a
// .zonesync directory. Returns "" when none exists; `zs init` creates
// one.
func FindDataDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findDataDirFrom(wd)
}

func findDataDirFrom(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, DataDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Remote reports whether the store is a remote deployment.
func (c *Config) Remote() bool {
	return c.StoreURL != ""
}

// StorePath is the embedded store database file.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "store.db")
}

// KeyfilePath is the embedded store's sealing key.
func (c *Config) KeyfilePath() string {
	return filepath.Join(c.DataDir, "keyfile")
}

// MarksPath is the zone provisioning marks file.
func (c *Config) MarksPath() string {
	return filepath.Join(c.DataDir, "marks.toml")
}

// JournalPath is the operation journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.jsonl")
}

// CacheDir is the plaintext contact cache directory. Each zone caches
// separately, so recovering one zone never re-uploads another zone's
// contacts.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache", c.Zone)
}

// DaemonLockPath is the daemon's single-instance lock file.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.DataDir, "daemon.lock")
}

// DaemonLogPath is the daemon's rotated log file.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.DataDir, "daemon.log")
}

// DebugOutput returns the Config as a string for debug output.
func (c *Config) DebugOutput() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshaling config to json: %v", err)
	}
	return string(b)
}
