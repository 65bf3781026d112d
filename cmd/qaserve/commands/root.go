// Package commands defines all Cobra CLI commands for the qaserve binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/vanntrong/qaserve-go/internal/audit"
	"github.com/vanntrong/qaserve-go/internal/config"
	"github.com/vanntrong/qaserve-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfig is the resolved configuration available to all subcommands.
var loadedConfig config.Config

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qaserve",
		Short: "qaserve — semantic question answering over a growing QA corpus",
		Long: `qaserve answers natural-language questions by nearest-neighbor search
over a corpus of question/answer pairs, and periodically re-specializes its
embedding model on the accumulated data.

Configuration is layered: built-in defaults, then a YAML config file
(~/.qaserve/config.yaml), then environment variables (env always wins).
See 'qaserve --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfig = cfg
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.qaserve/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewRetrainCmd(),
		NewVersionCmd(),
	)

	return root
}
