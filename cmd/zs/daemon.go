package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/veildb/zonesync/internal/daemon"
	"github.com/veildb/zonesync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Start the cache sync daemon (foreground)",
	Long: `Start the cache sync daemon in foreground mode.

The daemon keeps the plaintext contact cache and the record store in
step:
  1. Uploads the full cache on startup
  2. Watches the cache directory for contact file changes
  3. Uploads edits and deletes records for removed files
  4. Reconciles the full cache on an interval

Only one daemon can run per data directory; a lock file enforces it.
With --log-file, output goes to a size-rotated log under the data
directory instead of stderr.`,
	Run: func(cmd *cobra.Command, args []string) {
		logToFile, _ := cmd.Flags().GetBool("log-file")

		cfg := loadConfig()
		requireDataDir(cfg)

		eng, db := openEngine(cfg)
		defer db.Close()

		// The zone must exist before the daemon uploads into it
		initializeEngine(context.Background(), eng)

		var logDest io.Writer = os.Stderr
		if logToFile {
			logDest = &lumberjack.Logger{
				Filename:   cfg.DaemonLogPath(),
				MaxSize:    cfg.Daemon.LogMaxSizeMB,
				MaxBackups: cfg.Daemon.LogMaxBackups,
			}
		}

		d, err := daemon.NewWithConfig(db, cfg.Zone, cfg.CacheDir(), cfg.DaemonLockPath(), &daemon.Config{
			SyncInterval:     cfg.Daemon.SyncInterval,
			DebounceInterval: cfg.Daemon.DebounceInterval,
			Logger:           log.New(logDest, "[daemon] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Zone: %s\n", cfg.Zone)
		fmt.Printf("   Cache: %s\n", cfg.CacheDir())
		if logToFile {
			fmt.Printf("   Log: %s\n", cfg.DaemonLogPath())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Start daemon (this blocks)
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("log-file", false, "Log to a rotated file instead of stderr")
	rootCmd.AddCommand(daemonCmd)
}
