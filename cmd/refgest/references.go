package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/refgest/internal/chunker"
	"github.com/dgallion1/refgest/internal/refs"
)

var referencesPaste string

// ReferencesResult lists a file's references, optionally merged with a
// pasted list.
type ReferencesResult struct {
	File       string       `json:"file" yaml:"file"`
	Type       string       `json:"type" yaml:"type"`
	StartPage  *int         `json:"start_page" yaml:"start_page"`
	Count      int          `json:"count" yaml:"count"`
	Added      int          `json:"added,omitempty" yaml:"added,omitempty"`
	Conflicts  []string     `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	References []refs.Entry `json:"references" yaml:"references"`
}

var referencesCmd = &cobra.Command{
	Use:   "references FILE",
	Short: "Extract the reference list of a local file",
	Long: `Extract the reference list of a local file.

With --paste, entries from a pasted reference list are added to the
extracted ones. Extracted entries are never overwritten; ids whose pasted
text differs are reported as conflicts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := analyzeFile(args[0], chunker.DefaultChunkSize, false, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		data := res.References
		out := ReferencesResult{File: args[0]}

		if referencesPaste != "" {
			text, err := os.ReadFile(referencesPaste)
			if err != nil {
				return fmt.Errorf("read %s: %w", referencesPaste, err)
			}
			pasted := refs.ParseText(string(text))
			if pasted.Empty() {
				return fmt.Errorf("no references recognized in %s", referencesPaste)
			}
			merged, conflicts := refs.Merge(data, pasted)
			out.Added = len(merged.Entries) - len(data.Entries)
			out.Conflicts = conflicts
			data = merged
		}

		out.Type = data.Type
		out.StartPage = data.StartPage
		out.References = data.Sorted()
		if out.References == nil {
			out.References = []refs.Entry{}
		}
		out.Count = len(out.References)
		return writeOutput(cmd.OutOrStdout(), outputFormat, out)
	},
}

func init() {
	referencesCmd.Flags().StringVar(&referencesPaste, "paste", "", "File holding a pasted reference list to merge in")
	rootCmd.AddCommand(referencesCmd)
}
