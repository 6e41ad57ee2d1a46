package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/veildb/zonesync/internal/config"
	"github.com/veildb/zonesync/internal/engine"
	"github.com/veildb/zonesync/internal/journal"
	"github.com/veildb/zonesync/internal/marks"
	"github.com/veildb/zonesync/internal/schema"
	"github.com/veildb/zonesync/internal/store"
	"github.com/veildb/zonesync/internal/ui"
)

// loadConfig resolves configuration from flags, environment, and config
// file.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// requireDataDir exits with guidance when run outside an initialized
// tree.
func requireDataDir(cfg *config.Config) string {
	if cfg.DataDir == "" {
		fmt.Fprintf(os.Stderr, "Error: %s directory not found\n", config.DataDirName)
		fmt.Fprintf(os.Stderr, "Run 'zs init' to initialize a contact store\n")
		os.Exit(1)
	}
	return cfg.DataDir
}

// openStore opens the embedded or remote store selected by the
// configuration and makes sure its schema exists.
func openStore(cfg *config.Config) *store.DB {
	var (
		db  *store.DB
		err error
	)
	if cfg.Remote() {
		db, err = store.OpenRemote(cfg.StoreURL, cfg.AuthToken, cfg.KeyfilePath())
	} else {
		db, err = store.Open(cfg.StorePath(), cfg.KeyfilePath())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}

	if err := db.InitSchema(context.Background()); err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Error initializing store schema: %v\n", err)
		os.Exit(1)
	}
	return db
}

// openEngine builds a sync engine over the configured store. The caller
// owns the returned store handle and must Close it.
func openEngine(cfg *config.Config) (*engine.Engine, *store.DB) {
	db := openStore(cfg)

	eng, err := engine.NewWithConfig(db, marks.NewFileStore(cfg.MarksPath()), &engine.Config{
		Zone:    cfg.Zone,
		Logger:  log.New(os.Stderr, "[engine] ", log.LstdFlags),
		Journal: journal.Open(cfg.JournalPath()),
	})
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
		os.Exit(1)
	}
	return eng, db
}

// initializeEngine provisions the zone, exiting with the classified
// failure on error.
func initializeEngine(ctx context.Context, eng *engine.Engine) {
	if err := eng.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing zone %s: %v\n", eng.Zone(), err)
		os.Exit(1)
	}
}

// refreshContacts loads the zone's current contacts and mirrors them
// into the plaintext cache, which is what recovery re-uploads after key
// loss.
func refreshContacts(ctx context.Context, cfg *config.Config, eng *engine.Engine) []*schema.Contact {
	if err := eng.Refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading contacts: %v\n", err)
		os.Exit(1)
	}

	contacts := eng.State().Contacts
	if err := schema.SyncCache(cfg.CacheDir(), contacts); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to update cache: %v\n", err)
	}
	return contacts
}

// stdinIsTerminal reports whether interactive prompts make sense.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func printZoneLine(cfg *config.Config) {
	backend := "embedded"
	if cfg.Remote() {
		backend = cfg.StoreURL
	}
	fmt.Printf("%s Zone %s (%s)\n", ui.RenderAccent("●"), cfg.Zone, backend)
}
