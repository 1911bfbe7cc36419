package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/refgest/internal/chunker"
	"github.com/dgallion1/refgest/internal/pipeline"
	"github.com/dgallion1/refgest/internal/refs"
	"github.com/dgallion1/refgest/internal/store"
)

var (
	inspectChunkSize   int
	inspectSectionType string
	inspectVerbose     bool
)

// InspectResult is the offline analysis of one file.
type InspectResult struct {
	File       string                `json:"file" yaml:"file"`
	Elements   int                   `json:"elements" yaml:"elements"`
	Groups     int                   `json:"groups" yaml:"groups"`
	Citations  int                   `json:"citations" yaml:"citations"`
	References []refs.Entry          `json:"references" yaml:"references"`
	Sections   []store.SectionRecord `json:"sections" yaml:"sections"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Show sections, references and citations of a local file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := analyzeFile(args[0], inspectChunkSize, inspectVerbose, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		out := InspectResult{
			File:       args[0],
			Elements:   len(res.Elements),
			Groups:     len(res.Groups),
			Citations:  res.Citations,
			References: res.References.Sorted(),
			Sections:   res.Records,
		}
		if out.References == nil {
			out.References = []refs.Entry{}
		}
		if inspectSectionType != "" {
			kept := out.Sections[:0]
			for _, r := range out.Sections {
				if string(r.Type) == inspectSectionType {
					kept = append(kept, r)
				}
			}
			out.Sections = kept
		}
		return writeOutput(cmd.OutOrStdout(), outputFormat, out)
	},
}

// analyzeFile parses path and runs the structural pipeline stages on it.
// Warnings go to stderr only when verbose.
func analyzeFile(path string, chunkSize int, verbose bool, stderr io.Writer) (pipeline.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	elements, err := pipeline.ParseFile(data, filepath.Base(path))
	if err != nil {
		return pipeline.Result{}, err
	}

	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return pipeline.Analyze(filepath.Base(path), elements, chunkSize, log), nil
}

func init() {
	inspectCmd.Flags().IntVar(&inspectChunkSize, "chunk-size", chunker.DefaultChunkSize, "Prose elements per text section")
	inspectCmd.Flags().StringVar(&inspectSectionType, "type", "", "Only show sections of this type (text, table, image, figure, diagram)")
	inspectCmd.Flags().BoolVarP(&inspectVerbose, "verbose", "v", false, "Log parsing warnings to stderr")
	rootCmd.AddCommand(inspectCmd)
}
