package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veildb/zonesync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the zs version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("zs %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
