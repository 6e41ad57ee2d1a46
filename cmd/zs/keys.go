package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/ui"
	"github.com/veildb/zonesync/internal/version"
)

var keysCmd = &cobra.Command{
	Use:     "keys",
	GroupID: "sync",
	Short:   "Manage store key material and client gating",
}

var keysResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the store's sealing key with fresh material",
	Long: `Replace the store's field-sealing key with fresh random bytes.

Every phone number sealed before the reset becomes permanently
unreadable: fetches start failing with a key-material error until the
zone is rebuilt with 'zs recover'. Use this to exercise the recovery
path, or after rotating a compromised keyfile.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Fprintf(os.Stderr, "Error: key reset makes sealed fields unreadable; pass --force to proceed\n")
			os.Exit(1)
		}

		cfg := loadConfig()
		requireDataDir(cfg)

		db := openStore(cfg)
		defer db.Close()

		if err := db.ResetKeyMaterial(); err != nil {
			fmt.Fprintf(os.Stderr, "Error resetting key material: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Key material reset\n", ui.RenderPass("✓"))
		fmt.Printf("   Previously sealed fields are now unreadable\n")
		fmt.Printf("   Run 'zs recover' to rebuild the zone from the cache\n")
	},
}

var keysMinVersionCmd = &cobra.Command{
	Use:   "min-version <version>",
	Short: "Set the minimum client version the store will serve",
	Long: `Set the minimum client version the store will serve.

Clients older than this are rejected with an upgrade-required error on
every operation. The version must be valid semver (v1.2.3). This client
is ` + version.Version + `.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		requireDataDir(cfg)

		db := openStore(cfg)
		defer db.Close()

		if err := db.SetMinClientVersion(context.Background(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error setting minimum version: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Minimum client version set to %s\n", ui.RenderPass("✓"), args[0])
	},
}

func init() {
	keysResetCmd.Flags().Bool("force", false, "Confirm the reset")
	keysCmd.AddCommand(keysResetCmd)
	keysCmd.AddCommand(keysMinVersionCmd)
	rootCmd.AddCommand(keysCmd)
}
