package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/journal"
	"github.com/veildb/zonesync/internal/marks"
	"github.com/veildb/zonesync/internal/store"
	"github.com/veildb/zonesync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "core",
	Short:   "Show contact store status",
	Long: `Display the current status of the contact store.

Shows:
  - Data directory and store location
  - Zone provisioning state and record counts
  - Change feed position
  - The last journaled operation`,
	Run: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")

		cfg := loadConfig()
		requireDataDir(cfg)

		if debug {
			fmt.Println(cfg.DebugOutput())
		}

		fmt.Printf("\n%s Contact Store Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Data dir: %s\n", cfg.DataDir)

		if cfg.Remote() {
			fmt.Printf("Store: %s\n", cfg.StoreURL)
		} else {
			fmt.Printf("Store: %s\n", cfg.StorePath())
			if info, err := os.Stat(cfg.StorePath()); err == nil {
				fmt.Printf("Size: %s\n", formatSize(info.Size()))
			}
		}

		provisioned, err := marks.NewFileStore(cfg.MarksPath()).Created(cfg.Zone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading marks: %v\n", err)
			os.Exit(1)
		}
		if !provisioned {
			fmt.Printf("Zone: %s %s\n", cfg.Zone, ui.RenderWarn("(not provisioned)"))
			fmt.Printf("\nRun 'zs init' to provision the zone\n\n")
			return
		}
		fmt.Printf("Zone: %s %s\n", cfg.Zone, ui.RenderPass("(provisioned)"))

		db := openStore(cfg)
		defer db.Close()

		info, err := db.Zone(context.Background(), cfg.Zone)
		if err != nil {
			if store.IsCode(err, store.CodeZoneNotFound) {
				// Marked locally but gone on the store side; recovery
				// re-provisions it.
				fmt.Printf("\n%s Zone missing from the store\n", ui.RenderWarn("⚠"))
				fmt.Printf("   Run 'zs recover' to rebuild it from the cache\n\n")
				return
			}
			fmt.Fprintf(os.Stderr, "Error reading zone: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Contacts: %d live, %d tombstones\n", info.Records, info.Tombstones)
		fmt.Printf("Change token: %s\n", tokenString(info.Token))
		fmt.Printf("Created: %s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))

		entries, err := journal.Open(cfg.JournalPath()).Read()
		if err == nil && len(entries) > 0 {
			last := entries[len(entries)-1]
			fmt.Printf("Last operation: %s at %s\n", last.Op, last.Time.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func tokenString(t store.ChangeToken) string {
	if t == "" {
		return "(empty zone)"
	}
	return string(t)
}

func init() {
	statusCmd.Flags().Bool("debug", false, "Print the resolved configuration")
	rootCmd.AddCommand(statusCmd)
}
