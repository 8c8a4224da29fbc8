// Command curate runs the editorial pipeline: the worker process that
// consumes document changes and drives the agent stages, the web process
// that serves the front-end API and event stream, and a one-shot schema
// migration command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "curate",
	Short: "Document-driven editorial pipeline",
	Long: `Curate advances user-submitted links through a fixed sequence of
agent stages (fetch, review, draft, edit, publish) and converges an
edition document to a publishable state.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"Optional environment file loaded before reading process environment")
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(webCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
