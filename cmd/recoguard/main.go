package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recoguard",
		Short: "Recoguard - recommendation quality and latency governance",
		Long: `Recoguard watches every recommendation response for quality and latency,
degrades to a popularity fallback when a response misses its thresholds,
and keeps a rolling window of governance records for reporting.

Run 'recoguard-server' to start the governance service.
Use this tool to validate threshold files and read reports from a running server.`,
		SilenceUsage: true,
	}

	// Global flags
	root.PersistentFlags().String("server", "http://localhost:8080", "recoguard server base URL")
	root.PersistentFlags().String("format", "text", "output format (text, json)")
	root.PersistentFlags().Duration("timeout", defaultTimeout, "HTTP request timeout")

	root.AddCommand(
		thresholdsCmd(),
		reportCmd(),
		alertsCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recoguard %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
