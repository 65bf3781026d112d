package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vanntrong/qaserve-go/internal/engine"
	"github.com/vanntrong/qaserve-go/internal/logging"
)

// NewSearchCmd constructs the `qaserve search` command, which answers a
// single question against the local corpus.
func NewSearchCmd() *cobra.Command {
	var (
		k         int
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "search [question]",
		Short: "Search the corpus for the best matching answers",
		Long: `Search the corpus for the best matching answers.

Examples:
  qaserve search "what time do you open"
  qaserve search "shipping cost" -k 3 --threshold 0.8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, closeAll, err := buildApp(ctx, log)
			if err != nil {
				return err
			}
			defer closeAll()

			hits, err := a.engine.Search(ctx, args[0], k, threshold)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			for i, hit := range hits {
				dist := "-"
				if hit.Distance != nil {
					dist = fmt.Sprintf("%.4f", *hit.Distance)
				}
				fmt.Printf("%d. [%s] %s\n   %s\n", i+1, dist, hit.Question, strings.TrimSpace(hit.Answer))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top", "k", engine.DefaultK, "number of answers to return")
	cmd.Flags().Float64Var(&threshold, "threshold", engine.DefaultDistanceThreshold, "maximum squared distance for a match")

	return cmd
}
