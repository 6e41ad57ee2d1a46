package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "core",
	Short:   "List contacts",
	Long: `Load the zone's contacts from the store and list them.

Every listing refreshes the local plaintext cache, so the cache always
mirrors the last loaded state.

Examples:
  zs list
  zs list --json`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		cfg := loadConfig()
		requireDataDir(cfg)

		eng, db := openEngine(cfg)
		defer db.Close()

		ctx := context.Background()
		initializeEngine(ctx, eng)
		contacts := refreshContacts(ctx, cfg, eng)

		if jsonOutput {
			out, err := json.MarshalIndent(contacts, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(out))
			return
		}

		if len(contacts) == 0 {
			fmt.Printf("%s No contacts in zone %s\n", ui.RenderMuted("-"), cfg.Zone)
			fmt.Printf("   Run 'zs add' to create one\n")
			return
		}

		fmt.Print(ui.ContactTable(contacts))
		fmt.Printf("\n%d contact(s)\n", len(contacts))
	},
}

func init() {
	listCmd.Flags().Bool("json", false, "Output contacts as JSON")
	rootCmd.AddCommand(listCmd)
}
