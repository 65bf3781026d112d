package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vanntrong/qaserve-go/internal/version"
)

// NewVersionCmd constructs the `qaserve version` command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qaserve %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.BuildDate)
		},
	}
}
