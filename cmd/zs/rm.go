package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/schema"
	"github.com/veildb/zonesync/internal/ui"
)

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	GroupID: "core",
	Short:   "Remove contacts by ID",
	Long: `Remove one or more contacts from the zone.

Deletes are batched: if some IDs fail the store reports which, and the
rest are still removed. IDs that never existed delete as a no-op.

Example:
  zs rm 7c9e6679-7425-40de-944b-e07fc1f90ae7`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		requireDataDir(cfg)

		eng, db := openEngine(cfg)
		defer db.Close()

		ctx := context.Background()
		initializeEngine(ctx, eng)

		contacts := make([]*schema.Contact, 0, len(args))
		for _, id := range args {
			contacts = append(contacts, &schema.Contact{ID: id})
		}

		if err := eng.DeleteContacts(ctx, contacts); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing contacts: %v\n", err)
			os.Exit(1)
		}

		for _, id := range args {
			if err := schema.RemoveContactFile(cfg.CacheDir(), id); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to drop cache file for %s: %v\n", id, err)
			}
		}

		fmt.Printf("%s Removed %d contact(s)\n", ui.RenderPass("✓"), len(args))
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
