package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "botgate",
	Short: "botgate — chat-bot gateway and queue workers",
	Long: "botgate accepts platform adapters over WebSocket, fans their events out to " +
		"subscribers, routes actions back to the right adapter, and runs plugin " +
		"pipelines inline or from a Redis stream.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}
