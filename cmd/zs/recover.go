package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/schema"
	"github.com/veildb/zonesync/internal/ui"
)

var recoverCmd = &cobra.Command{
	Use:     "recover",
	GroupID: "sync",
	Short:   "Rebuild the zone after key material loss",
	Long: `Rebuild the zone after key material loss.

When the store's sealing key is lost, sealed phone numbers cannot be
recovered on the store side. Recovery:
  1. Deletes the zone and everything in it
  2. Clears the local provisioning mark
  3. Provisions a fresh zone
  4. Re-uploads every contact from the plaintext cache

The cache is the recovery source: contacts that never made it into the
cache are lost. This is destructive and cannot be undone.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		cfg := loadConfig()
		requireDataDir(cfg)

		contacts, err := schema.ReadAllContactFiles(cfg.CacheDir())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading cache: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Recovery will delete zone %s and re-upload %d cached contact(s)\n",
			ui.RenderWarn("⚠"), cfg.Zone, len(contacts))

		if !force {
			if !stdinIsTerminal() {
				fmt.Fprintf(os.Stderr, "Error: refusing to recover without confirmation; pass --force\n")
				os.Exit(1)
			}

			var confirmed bool
			confirm := huh.NewForm(
				huh.NewGroup(
					huh.NewConfirm().
						Title(fmt.Sprintf("Delete zone %s and rebuild from cache?", cfg.Zone)).
						Affirmative("Recover").
						Negative("Cancel").
						Value(&confirmed),
				),
			)
			if err := confirm.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirmed {
				fmt.Println("Recovery cancelled")
				return
			}
		}

		eng, db := openEngine(cfg)
		defer db.Close()

		ctx := context.Background()
		if err := eng.Recover(ctx, contacts); err != nil {
			fmt.Fprintf(os.Stderr, "Error during recovery: %v\n", err)
			os.Exit(1)
		}

		// Load the rebuilt zone so the cache mirrors what actually landed
		recovered := refreshContacts(ctx, cfg, eng)

		fmt.Printf("%s Recovered zone %s\n", ui.RenderPass("✓"), cfg.Zone)
		fmt.Printf("   Cached: %d\n", len(contacts))
		fmt.Printf("   Restored: %d\n", len(recovered))
		if len(recovered) < len(contacts) {
			fmt.Printf("   %s Some contacts failed to upload; check 'zs log'\n", ui.RenderWarn("⚠"))
		}
	},
}

func init() {
	recoverCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(recoverCmd)
}
