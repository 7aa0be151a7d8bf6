package commands

import (
	"github.com/spf13/cobra"
)

func newCompileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [node]",
		Short: "Compile a catalog from the server manifests",
		Long: `Compile the catalog for a node from the server manifest directory.

Compile switches to server run mode and the compiler terminus, regardless of
--terminus. Facts come from the local facts registry; nodes without facts are
compiled with none. Every compiled catalog must pass the loaded policies.`,
		Example: `  # Compile this node's catalog
  froyo-catalog compile

  # Show another node's resource graph
  froyo-catalog compile db01 --render-as dot | dot -Tsvg > db01.svg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			catalog, err := a.workflow.Compile(ctx, argOrEmpty(args))
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("node", catalog.Name).
				Str("version", catalog.Version).
				Int("resources", len(catalog.Resources)).
				Msg("Catalog compiled")

			return render(cmd.OutOrStdout(), catalog)
		},
	}

	return cmd
}
