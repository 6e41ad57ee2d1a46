package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/config"
	"github.com/veildb/zonesync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "core",
	Short:   "Initialize a contact store in the current directory",
	Long: `Initialize a contact store in the current directory.

This will:
  1. Create the .zonesync data directory
  2. Open the record store (embedded by default)
  3. Provision the contact zone and remember it locally
  4. Create the plaintext contact cache

Pass --store-url (and --auth-token) to sync against a hosted libSQL
deployment instead of the embedded database. The sealing keyfile is
created next to the store on first use.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if cfg.DataDir != "" {
			fmt.Printf("%s Already initialized at %s\n", ui.RenderWarn("⚠"), cfg.DataDir)
			return
		}

		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.DataDir = filepath.Join(wd, config.DataDirName)

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
			os.Exit(1)
		}
		if err := os.MkdirAll(cfg.CacheDir(), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating cache directory: %v\n", err)
			os.Exit(1)
		}

		eng, db := openEngine(cfg)
		defer db.Close()

		initializeEngine(context.Background(), eng)

		fmt.Printf("%s Initialized contact store\n", ui.RenderPass("✓"))
		fmt.Printf("   Data dir: %s\n", cfg.DataDir)
		if cfg.Remote() {
			fmt.Printf("   Store: %s\n", cfg.StoreURL)
		} else {
			fmt.Printf("   Store: %s\n", cfg.StorePath())
		}
		fmt.Printf("   Zone: %s\n", cfg.Zone)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
