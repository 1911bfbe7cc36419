package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgallion1/refgest/internal/relevance"
)

var (
	scoreStrategy string
	scoreSignals  relevance.Signals
)

// ScoreResult is the document score for the given counts.
type ScoreResult struct {
	Strategy string            `json:"strategy" yaml:"strategy"`
	Score    float64           `json:"score" yaml:"score"`
	Signals  relevance.Signals `json:"signals" yaml:"signals"`
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute a document relevance score from match counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		scorer, err := relevance.ForName(scoreStrategy)
		if err != nil {
			return err
		}
		c := scoreSignals.Counts
		for _, n := range []int{c.Sections, c.Context, c.Theme, c.Keyword, c.Similar, c.Cited} {
			if n < 0 {
				return fmt.Errorf("counts must not be negative")
			}
		}
		if c.Sections == 0 {
			scoreSignals.Sections = max(c.Context, c.Theme, c.Keyword, c.Similar, c.Cited)
		}
		return writeOutput(cmd.OutOrStdout(), outputFormat, ScoreResult{
			Strategy: scorer.Name(),
			Score:    scorer.Document(scoreSignals),
			Signals:  scoreSignals,
		})
	},
}

func init() {
	f := scoreCmd.Flags()
	f.StringVar(&scoreStrategy, "strategy", relevance.StrategyCount, "Scoring strategy: count or weighted")
	f.IntVar(&scoreSignals.Sections, "sections", 0, "Sections analyzed (defaults to the largest count)")
	f.IntVar(&scoreSignals.Context, "context", 0, "Sections matching the research context")
	f.IntVar(&scoreSignals.Theme, "theme", 0, "Sections matching the theme")
	f.IntVar(&scoreSignals.Keyword, "keyword", 0, "Sections containing a keyword")
	f.IntVar(&scoreSignals.Similar, "similar", 0, "Sections containing a similar keyword")
	f.IntVar(&scoreSignals.Cited, "cited", 0, "Sections with at least one citation")
	f.BoolVar(&scoreSignals.DocumentRelevant, "relevant", false, "Summary-level check found the document relevant")
	rootCmd.AddCommand(scoreCmd)
}
