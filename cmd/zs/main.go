// Command zs manages an encrypted-field contact store synced through
// zone-scoped record zones.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/config"
	"github.com/veildb/zonesync/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "zs",
	Short: "zs syncs contacts through an encrypted-field record store",
	Long: `zs is a contact manager backed by a zone-scoped record store.

Contact names are stored in plaintext; phone numbers are flagged for
server-side encryption and sealed at rest. Local state lives in a
.zonesync directory discovered by walking up from the working
directory, like version control tools find their repo root.

Start with 'zs init', then 'zs add' and 'zs list'. Run 'zs daemon' to
keep the local cache and the store in sync continuously.`,
	Version:       version.Version,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("zone", "", "Record zone to operate on")
	flags.String("store-url", "", "Remote store URL (default: embedded store)")
	flags.String("auth-token", "", "Auth token for the remote store")
	flags.String("data-dir", "", "Data directory (default: discovered .zonesync)")
	config.BindFlags(flags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
