package commands

import (
	"github.com/spf13/cobra"
)

func newDownloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch this node's catalog and cache it",
		Long: `Fetch this node's catalog from the catalog server and store it in the cache.

The local facts are sent along with the request. On success the cache terminus
is left active and the catalog's classes are written to the class file.
Prints the resulting terminus selection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			state, err := a.workflow.Download(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), state)
		},
	}

	return cmd
}
