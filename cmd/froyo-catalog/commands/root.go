package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	terminus   string
	renderAs   string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-catalog",
		Short: "Find, compile, download and apply node catalogs",
		Long: `froyo-catalog retrieves the catalog describing a node's desired state and applies it.

Catalogs come from one of three termini:
  - compiler: compiles the local CUE manifests
  - network:  asks a catalog server
  - cache:    reads the last downloaded catalog

The terminus is chosen with --terminus or the catalog_terminus setting.
Compile and download switch termini themselves.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&terminus, "terminus", "", "catalog terminus (compiler, network, cache)")
	rootCmd.PersistentFlags().StringVar(&renderAs, "render-as", "yaml", "output format (yaml, json, dot)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newFindCommand())
	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newDownloadCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newSaveCommand())
	rootCmd.AddCommand(newSearchCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
