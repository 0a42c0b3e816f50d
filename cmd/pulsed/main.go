// Package main starts the pulse pipeline binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set by goreleaser)
	version = "dev"
	commit  = "none"
	date    = "unknown"

	routesPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "pulsed",
	Short: "Durable telemetry ingestion and fan-out pipeline",
	Long: `pulsed ingests device telemetry from MQTT and HTTP, validates and
persists it, and fans matching messages out to operator-defined
destinations with at-least-once delivery.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		if code := run(); code != 0 {
			return fmt.Errorf("pulsed exited with code %d", code)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("pulsed version %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&routesPath, "routes", "r", "", "Route table file (overrides ROUTES_FILE)")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "HTTP listen address (overrides HTTP_LISTEN_ADDR)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
