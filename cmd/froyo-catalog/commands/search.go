package commands

import (
	"fmt"

	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/spf13/cobra"
)

func newSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [pattern]",
		Short: "List the nodes the active terminus holds catalogs for",
		Long: `List the nodes the active terminus holds catalogs for.

The optional pattern is a shell glob matched against node names.
Only the cache and network termini support search.`,
		Example: `  froyo-catalog search --terminus cache 'web*'`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			nodes, err := a.registry.Search(ctx, indirector.SubjectCatalog, argOrEmpty(args))
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("render-as") {
				for _, node := range nodes {
					fmt.Fprintln(cmd.OutOrStdout(), node)
				}
				return nil
			}
			return render(cmd.OutOrStdout(), nodes)
		},
	}

	return cmd
}
