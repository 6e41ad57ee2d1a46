package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/journal"
	"github.com/veildb/zonesync/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "advanced",
	Short:   "Show the operation journal",
	Long: `Show the zone's operation journal: provisioning, refreshes, adds,
deletes, recoveries and imports, with the failures that classified.

--since accepts natural language as well as dates:

  zs log --since "yesterday"
  zs log --since "2 hours ago"
  zs log --since 2026-08-20
  zs log --errors`,
	Run: func(cmd *cobra.Command, args []string) {
		sinceStr, _ := cmd.Flags().GetString("since")
		errorsOnly, _ := cmd.Flags().GetBool("errors")

		cfg := loadConfig()
		requireDataDir(cfg)

		var since time.Time
		if sinceStr != "" {
			since = parseSince(sinceStr)
		}

		entries, err := journal.Open(cfg.JournalPath()).ReadSince(since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
			os.Exit(1)
		}

		shown := 0
		for _, e := range entries {
			if e.Zone != "" && e.Zone != cfg.Zone {
				continue
			}
			if errorsOnly && e.Error == "" {
				continue
			}
			printEntry(e)
			shown++
		}

		if shown == 0 {
			fmt.Printf("%s No journal entries", ui.RenderMuted("-"))
			if sinceStr != "" {
				fmt.Printf(" since %s", since.Local().Format("2006-01-02 15:04"))
			}
			fmt.Println()
		}
	},
}

// parseSince turns a natural-language or ISO date into a cutoff time.
func parseSince(s string) time.Time {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	if r, err := w.Parse(s, time.Now()); err == nil && r != nil {
		return r.Time
	}

	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t
	}

	fmt.Fprintf(os.Stderr, "Error: cannot parse --since %q\n", s)
	fmt.Fprintf(os.Stderr, "Try a date (2026-08-20) or a phrase (\"2 hours ago\")\n")
	os.Exit(1)
	return time.Time{}
}

func printEntry(e journal.Entry) {
	stamp := e.Time.Local().Format("2006-01-02 15:04:05")
	op := fmt.Sprintf("%-8s", e.Op)

	detail := e.Detail
	if e.RecordID != "" {
		detail = fmt.Sprintf("%s %s", detail, ui.RenderMuted(e.RecordID))
	}

	if e.Error != "" {
		fmt.Printf("%s  %s %s (%s)\n", ui.RenderMuted(stamp), ui.RenderFail(op), detail, e.Error)
		return
	}
	fmt.Printf("%s  %s %s\n", ui.RenderMuted(stamp), ui.RenderAccent(op), detail)
}

func init() {
	logCmd.Flags().String("since", "", "Only show entries after this time")
	logCmd.Flags().Bool("errors", false, "Only show failed operations")
	rootCmd.AddCommand(logCmd)
}
