package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/veildb/zonesync/internal/schema"
)

// resetViper clears global viper state so tests do not see each other's
// defaults and config files.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Zone != schema.DefaultZone {
		t.Errorf("Zone = %q, want %q", cfg.Zone, schema.DefaultZone)
	}
	if cfg.Remote() {
		t.Error("Remote() = true with empty store URL, want false")
	}
	if cfg.Daemon.DebounceInterval != 200*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 200ms", cfg.Daemon.DebounceInterval)
	}
	if cfg.Daemon.SyncInterval != 30*time.Second {
		t.Errorf("SyncInterval = %v, want 30s", cfg.Daemon.SyncInterval)
	}
	if cfg.Dashboard.Addr != "localhost:8377" {
		t.Errorf("Dashboard.Addr = %q, want localhost:8377", cfg.Dashboard.Addr)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("ZONESYNC_ZONE", "staging-contacts")
	t.Setenv("ZONESYNC_AUTH_TOKEN", "tok-123")
	t.Setenv("ZONESYNC_STORE_URL", "libsql://contacts.example.turso.io")
	t.Setenv("ZONESYNC_DAEMON_SYNC_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Zone != "staging-contacts" {
		t.Errorf("Zone = %q, want staging-contacts", cfg.Zone)
	}
	if cfg.AuthToken != "tok-123" {
		t.Errorf("AuthToken = %q, want tok-123", cfg.AuthToken)
	}
	if !cfg.Remote() {
		t.Error("Remote() = false with libsql URL, want true")
	}
	if cfg.Daemon.SyncInterval != 5*time.Second {
		t.Errorf("SyncInterval = %v, want 5s", cfg.Daemon.SyncInterval)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	yaml := `zone: file-zone
auth-token: file-token
daemon:
  debounce-interval: 500ms
  log-max-backups: 7
`
	if err := os.WriteFile(filepath.Join(dir, "zonesync.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("ZONESYNC_CONFIG_DIR", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Zone != "file-zone" {
		t.Errorf("Zone = %q, want file-zone", cfg.Zone)
	}
	if cfg.AuthToken != "file-token" {
		t.Errorf("AuthToken = %q, want file-token", cfg.AuthToken)
	}
	if cfg.Daemon.DebounceInterval != 500*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 500ms", cfg.Daemon.DebounceInterval)
	}
	if cfg.Daemon.LogMaxBackups != 7 {
		t.Errorf("LogMaxBackups = %d, want 7", cfg.Daemon.LogMaxBackups)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Daemon.SyncInterval != 30*time.Second {
		t.Errorf("SyncInterval = %v, want default 30s", cfg.Daemon.SyncInterval)
	}
}

func TestLoad_EnvBeatsConfigFile(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "zonesync.yaml"), []byte("zone: from-file\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("ZONESYNC_CONFIG_DIR", dir)
	t.Setenv("ZONESYNC_ZONE", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Zone != "from-env" {
		t.Errorf("Zone = %q, want env to win over file", cfg.Zone)
	}
}

func TestFindDataDirFrom(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, DataDirName)
	nested := filepath.Join(root, "projects", "addressbook", "deep")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("failed to create nested dirs: %v", err)
	}

	if got := findDataDirFrom(nested); got != dataDir {
		t.Errorf("findDataDirFrom(%s) = %q, want %q", nested, got, dataDir)
	}
	if got := findDataDirFrom(root); got != dataDir {
		t.Errorf("findDataDirFrom(%s) = %q, want %q", root, got, dataDir)
	}

	// A .zonesync that is a plain file does not count.
	other := t.TempDir()
	if err := os.WriteFile(filepath.Join(other, DataDirName), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write decoy file: %v", err)
	}
	if got := findDataDirFrom(other); got != "" {
		t.Errorf("findDataDirFrom() = %q for file decoy, want empty", got)
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := &Config{DataDir: filepath.Join("some", DataDirName), Zone: "contacts"}

	tests := []struct {
		name string
		got  string
		base string
	}{
		{"store", cfg.StorePath(), "store.db"},
		{"keyfile", cfg.KeyfilePath(), "keyfile"},
		{"marks", cfg.MarksPath(), "marks.toml"},
		{"journal", cfg.JournalPath(), "journal.jsonl"},
		{"lock", cfg.DaemonLockPath(), "daemon.lock"},
		{"log", cfg.DaemonLogPath(), "daemon.log"},
	}
	for _, tt := range tests {
		want := filepath.Join(cfg.DataDir, tt.base)
		if tt.got != want {
			t.Errorf("%s path = %q, want %q", tt.name, tt.got, want)
		}
	}

	// The cache nests per zone so zones recover independently.
	wantCache := filepath.Join(cfg.DataDir, "cache", "contacts")
	if got := cfg.CacheDir(); got != wantCache {
		t.Errorf("cache path = %q, want %q", got, wantCache)
	}
}
