// Package daemon provides the background sync daemon that keeps the
// contact cache directory and the record store in step.
//
// The daemon:
// 1. Uploads the full cache to the store on startup
// 2. Watches the cache directory for contact file changes
// 3. Uploads changed files and deletes records for removed files
// 4. Periodically re-reconciles the full cache
// 5. Handles graceful shutdown
//
// An advisory file lock ensures only one daemon instance syncs a given
// cache directory. Sync is one-directional: cache to store. The store
// side never deletes a record unless its cache file was observed being
// removed.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/veildb/zonesync/internal/schema"
	"github.com/veildb/zonesync/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to reconcile the full cache directory
	// against the store.
	SyncInterval time.Duration

	// DebounceInterval is how long to wait before processing file changes.
	// This batches rapid updates together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates cache watching and store synchronization.
type Daemon struct {
	store    store.Store
	zone     string
	cacheDir string
	lockPath string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	lockMu sync.Mutex
	lock   *lockFile

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - st: record store the cache syncs into
//   - zone: zone the contacts belong to
//   - cacheDir: directory of contact JSON files (one per contact)
//   - lockPath: lock file guarding single-instance operation
//
// Use Start() to begin watching and syncing.
func New(st store.Store, zone, cacheDir, lockPath string) (*Daemon, error) {
	return NewWithConfig(st, zone, cacheDir, lockPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(st store.Store, zone, cacheDir, lockPath string, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if zone == "" {
		return nil, fmt.Errorf("zone cannot be empty")
	}
	if cacheDir == "" {
		return nil, fmt.Errorf("cacheDir cannot be empty")
	}
	if lockPath == "" {
		return nil, fmt.Errorf("lockPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       st,
		zone:        zone,
		cacheDir:    cacheDir,
		lockPath:    lockPath,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Acquire the single-instance lock
// 2. Upload the full cache to the store
// 3. Watch the cache directory for changes
// 4. Process changes with debouncing and reconcile periodically
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	lock, err := acquireLock(d.lockPath)
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	d.lockMu.Lock()
	d.lock = lock
	d.lockMu.Unlock()

	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Perform initial full sync
	if err := d.PerformFullSync(); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if err := d.watcher.Add(d.cacheDir); err != nil {
		return fmt.Errorf("failed to watch cache directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.cacheDir)

	// Start background goroutines
	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicSync()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.lockMu.Lock()
	if d.lock != nil {
		if err := d.lock.release(); err != nil {
			d.config.Logger.Printf("Error releasing lock: %v", err)
		}
		d.lock = nil
	}
	d.lockMu.Unlock()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// PerformFullSync uploads every cache file to the store.
//
// Invalid files are skipped with a warning; upload failures are logged
// per contact and do not stop the pass. It's called on startup, on the
// sync interval, and can be triggered manually.
func (d *Daemon) PerformFullSync() error {
	d.config.Logger.Println("Performing full sync")

	contacts, err := schema.ReadAllContactFiles(d.cacheDir)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	d.config.Logger.Printf("Syncing %d contacts", len(contacts))
	for _, c := range contacts {
		if err := d.uploadContact(c); err != nil {
			d.config.Logger.Printf("Warning: failed to sync contact %s: %v", c.ID, err)
		}
	}

	d.config.Logger.Println("Full sync complete")
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create, Write, Remove, Rename
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// Only process .json files
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges syncs files that have been queued for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		// Only process if enough time has passed (debouncing)
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		d.config.Logger.Printf("Processing change: %s", path)
		if err := d.syncContactFile(path); err != nil {
			d.config.Logger.Printf("Error syncing %s: %v", path, err)
		}

		delete(d.changeQueue, path)
	}
}

// syncContactFile uploads a single cache file, or deletes the record when
// the file is gone.
func (d *Daemon) syncContactFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		id := schema.ContactIDFromPath(path)
		d.config.Logger.Printf("Deleting contact: %s", id)
		return d.store.Delete(d.ctx, d.zone, []store.RecordID{store.RecordID(id)})
	}

	c, err := schema.ReadContactFile(path)
	if err != nil {
		return fmt.Errorf("failed to read contact file: %w", err)
	}

	return d.uploadContact(c)
}

// periodicSync reconciles the full cache on the sync interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.PerformFullSync(); err != nil {
				d.config.Logger.Printf("Error during periodic sync: %v", err)
			}
		}
	}
}

// uploadContact saves one contact into the store, preserving its ID.
func (d *Daemon) uploadContact(c *schema.Contact) error {
	_, err := d.store.Save(d.ctx, c.ToRecord(d.zone))
	return err
}
