package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the real-time WebSocket dashboard",
	Long: `Start a WebSocket dashboard server for monitoring the zone in
real-time.

The server broadcasts engine transitions to connected clients:
- state_change: the engine moved to a new phase
- contact_update: a contact appeared in or vanished from a load
- sync_complete: a refresh finished
- stats: zone statistics

Example usage:
  zs dashboard                        # listen on the configured address
  zs dashboard --addr localhost:9000

Connect with a WebSocket client:
  ws://localhost:8377/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")

		cfg := loadConfig()
		requireDataDir(cfg)
		if addr == "" {
			addr = cfg.Dashboard.Addr
		}

		eng, db := openEngine(cfg)
		defer db.Close()

		server := dashboard.NewServer(&dashboard.Config{
			Addr:   addr,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
		fmt.Printf("Health check: http://%s/health\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		handler := dashboard.NewHandler(server, cfg.Zone, log.New(os.Stderr, "[dashboard] ", log.LstdFlags))
		go handler.Run(ctx, eng)

		// Provision and load so clients get real state immediately
		initializeEngine(ctx, eng)
		refreshContacts(ctx, cfg, eng)

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().StringP("addr", "a", "", "Address to listen on (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
