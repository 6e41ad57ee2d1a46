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

var addCmd = &cobra.Command{
	Use:     "add [name] [phone]",
	GroupID: "core",
	Short:   "Add a contact",
	Long: `Add a contact to the zone.

The name is stored in plaintext; the phone number is flagged for
encryption and sealed by the store before it touches disk. With no
arguments an interactive form opens.

Examples:
  zs add "Jane Doe" "+1 555 0100"
  zs add "Jane Doe"
  zs add`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var name, phone string
		if len(args) > 0 {
			name = args[0]
		}
		if len(args) > 1 {
			phone = args[1]
		}

		if name == "" {
			if !stdinIsTerminal() {
				fmt.Fprintf(os.Stderr, "Error: name is required\n")
				fmt.Fprintf(os.Stderr, "Usage: zs add [name] [phone]\n")
				os.Exit(1)
			}

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Name").
						Validate(schema.ValidateName).
						Value(&name),
					huh.NewInput().
						Title("Phone number").
						Description("Sealed by the store; leave empty to skip").
						Value(&phone),
				),
			)
			if err := form.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		cfg := loadConfig()
		requireDataDir(cfg)

		eng, db := openEngine(cfg)
		defer db.Close()

		ctx := context.Background()
		initializeEngine(ctx, eng)

		contact, err := eng.AddContact(ctx, name, phone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error adding contact: %v\n", err)
			os.Exit(1)
		}

		// Mirror into the cache so recovery and the daemon see it
		if err := schema.WriteContactFile(cfg.CacheDir(), contact); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to cache contact: %v\n", err)
		}

		fmt.Printf("%s Added %s (%s)\n", ui.RenderPass("✓"), contact.Name, ui.RenderMuted(contact.ID))
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}
