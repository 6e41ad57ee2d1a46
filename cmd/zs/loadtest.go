package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/loadtest"
	"github.com/veildb/zonesync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Run a concurrent fetch load test against a throwaway store",
	Long: `Run a load test against a freshly seeded throwaway store.

This creates a temporary store with the requested number of records (a
fraction of them carrying sealed fields), hammers it with concurrent
full fetches, and reports latency percentiles. With --verify it also
runs readers against a concurrent writer to check that fetches never
observe torn records.

Examples:
  zs loadtest
  zs loadtest --records 5000 --clients 50
  zs loadtest --verify --duration 10s`,
	Run: func(cmd *cobra.Command, args []string) {
		records, _ := cmd.Flags().GetInt("records")
		clients, _ := cmd.Flags().GetInt("clients")
		fetches, _ := cmd.Flags().GetInt("fetches")
		encryptedPct, _ := cmd.Flags().GetFloat64("encrypted")
		verify, _ := cmd.Flags().GetBool("verify")
		duration, _ := cmd.Flags().GetDuration("duration")

		if records <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --records must be positive\n")
			os.Exit(1)
		}
		if clients <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --clients must be positive\n")
			os.Exit(1)
		}
		if encryptedPct < 0 || encryptedPct > 1 {
			fmt.Fprintf(os.Stderr, "Error: --encrypted must be between 0.0 and 1.0\n")
			os.Exit(1)
		}

		dir, err := os.MkdirTemp("", "zonesync-loadtest-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)

		fmt.Printf("%s Seeding %d records (%.0f%% with sealed fields)...\n",
			ui.RenderAccent("🔄"), records, encryptedPct*100)

		ts, err := loadtest.CreateTestStore(
			filepath.Join(dir, "loadtest.db"),
			filepath.Join(dir, "loadtest.key"),
			"loadtest", records, encryptedPct,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error seeding store: %v\n", err)
			os.Exit(1)
		}
		defer ts.Close()

		fmt.Printf("%s Running %d clients x %d fetches...\n", ui.RenderAccent("🔄"), clients, fetches)
		start := time.Now()

		stats, err := ts.RunConcurrentFetches(clients, fetches)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during load test: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Load test complete in %v\n\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		stats.PrintStats()

		if verify {
			fmt.Printf("\n%s Verifying read consistency under writes (%v)...\n", ui.RenderAccent("🔄"), duration)
			if err := ts.VerifyConsistency(clients, duration); err != nil {
				fmt.Fprintf(os.Stderr, "Error: consistency check failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s No torn reads observed\n", ui.RenderPass("✓"))
		}
	},
}

func init() {
	loadtestCmd.Flags().Int("records", 1000, "Number of records to seed")
	loadtestCmd.Flags().Int("clients", 10, "Number of concurrent clients")
	loadtestCmd.Flags().Int("fetches", 20, "Fetches per client")
	loadtestCmd.Flags().Float64("encrypted", 0.5, "Fraction of records with sealed fields (0.0-1.0)")
	loadtestCmd.Flags().Bool("verify", false, "Also run the consistency check")
	loadtestCmd.Flags().Duration("duration", 5*time.Second, "Consistency check duration")
	rootCmd.AddCommand(loadtestCmd)
}
