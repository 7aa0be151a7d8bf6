package commands

import (
	"github.com/spf13/cobra"
)

func newFindCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find [node]",
		Short: "Retrieve a catalog from the active terminus",
		Long: `Retrieve the catalog for a node from the active terminus without applying it.

The node defaults to the local certname. A missing catalog is an error.`,
		Example: `  # Read the cached catalog of this node
  froyo-catalog find --terminus cache

  # Ask the catalog server for another node's catalog
  froyo-catalog find web01.example.com --terminus network --render-as json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			catalog, err := a.workflow.Find(ctx, argOrEmpty(args), nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), catalog)
		},
	}

	return cmd
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
