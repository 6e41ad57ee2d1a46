package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/export"
	"github.com/veildb/zonesync/internal/journal"
	"github.com/veildb/zonesync/internal/schema"
	"github.com/veildb/zonesync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "advanced",
	Short:   "Export contacts to a JSON or YAML file",
	Long: `Export the zone's contacts to a file.

The format follows the extension: .yaml and .yml write YAML, anything
else writes JSON. The export contains plaintext phone numbers, so the
file is written owner-readable only.

Examples:
  zs export contacts.json
  zs export backup/contacts.yaml`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]

		cfg := loadConfig()
		requireDataDir(cfg)

		eng, db := openEngine(cfg)
		defer db.Close()

		ctx := context.Background()
		initializeEngine(ctx, eng)
		contacts := refreshContacts(ctx, cfg, eng)

		f := &export.File{
			ExportedAt: time.Now().UTC(),
			Zone:       cfg.Zone,
			Contacts:   contacts,
		}
		if err := export.Write(path, f); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing export: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Exported %d contact(s) to %s\n", ui.RenderPass("✓"), len(contacts), path)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Import contacts from a JSON or YAML file",
	Long: `Import contacts from a file produced by 'zs export' or written by
hand.

Entries with an ID overwrite any existing record with that ID; entries
without one get a fresh ID from the store. Invalid entries are skipped
with a warning and do not stop the import.

Example:
  zs import contacts.yaml`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]

		cfg := loadConfig()
		requireDataDir(cfg)

		f, err := export.Read(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading import file: %v\n", err)
			os.Exit(1)
		}

		contacts, rejected := f.ValidContacts()
		for _, reason := range rejected {
			fmt.Fprintf(os.Stderr, "Warning: skipping entry: %s\n", reason)
		}
		if len(contacts) == 0 {
			fmt.Fprintf(os.Stderr, "Error: no valid contacts in %s\n", path)
			os.Exit(1)
		}

		eng, db := openEngine(cfg)
		defer db.Close()

		ctx := context.Background()
		initializeEngine(ctx, eng)

		jnl := journal.Open(cfg.JournalPath())
		imported := 0
		for _, c := range contacts {
			saved, err := db.Save(ctx, c.ToRecord(cfg.Zone))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to import %s: %v\n", c.Name, err)
				continue
			}
			got, err := schema.FromRecord(saved)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: store returned unreadable record for %s: %v\n", c.Name, err)
				continue
			}
			if err := schema.WriteContactFile(cfg.CacheDir(), got); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to cache %s: %v\n", got.ID, err)
			}
			imported++
		}

		if err := jnl.Append(journal.Entry{
			Op:     journal.OpImport,
			Zone:   cfg.Zone,
			Detail: fmt.Sprintf("%d of %d contacts from %s", imported, len(contacts), path),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to journal import: %v\n", err)
		}

		fmt.Printf("%s Imported %d of %d contact(s) from %s\n", ui.RenderPass("✓"), imported, len(contacts), path)
		if len(rejected) > 0 {
			fmt.Printf("   Skipped %d invalid entr%s\n", len(rejected), plural(len(rejected), "y", "ies"))
		}
	},
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
