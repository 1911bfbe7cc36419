// Package main provides the refgest CLI: offline inspection of a local
// document's sections, references and citations, and relevance scoring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// outputFormat selects json or yaml output.
var outputFormat string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "refgest",
	Short: "Inspect academic documents offline",
	Long: `refgest parses a local document into title groups and sections,
extracts its reference list and resolves in-text citations.

Output is JSON by default; use --format yaml for YAML.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format: json or yaml")
	rootCmd.Version = Version
}
