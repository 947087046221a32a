// Package commands defines all Cobra CLI commands for the docqa binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/pricing"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// loadedPricing stores pricing overrides from the YAML config, layered over
// the built-in rate table when commands build the pipeline.
var loadedPricing map[string]pricing.Rates

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docqa",
		Short: "docqa — question answering over your PDF documents",
		Long: `docqa indexes directories of PDF documents into a vector store and
answers natural-language questions about them, citing the pages each
answer came from.

Chat and embedding providers are selected via the MODEL_PROVIDER and
EMBEDDING_PROVIDER environment variables or a YAML config file
(~/.docqa/config.yaml).
See 'docqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			res, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = res.Path
			loadedPricing = res.Pricing

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docqa/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
