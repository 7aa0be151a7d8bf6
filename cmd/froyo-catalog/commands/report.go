package commands

import (
	"fmt"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/spf13/cobra"
)

func newReportCommand() *cobra.Command {
	var (
		node    string
		limit   int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show stored apply reports",
		Long: `Show the last apply report of a node, its report history with --limit,
or event counts by status across all stored reports with --summary.

Reports are only stored when cache_store is sqlite.`,
		Example: `  # Last report of this node
  froyo-catalog report

  # The ten most recent reports
  froyo-catalog report --limit 10 --render-as json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			if a.db == nil {
				return engine.NewConfigurationError("reports are only stored with cache_store sqlite", nil).
					WithCode(engine.ErrCodeNotSupported)
			}
			if node == "" {
				node = a.settings.Certname()
			}

			if summary {
				counts, err := a.db.CountEventsByStatus(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), counts)
			}

			if limit > 0 {
				reports, err := a.db.ListReports(ctx, node, limit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), reports)
			}

			report, err := a.db.LastReport(ctx, node)
			if err != nil {
				return fmt.Errorf("failed to load last report for %s: %w", node, err)
			}
			return render(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "node to show reports for (default: local certname)")
	cmd.Flags().IntVar(&limit, "limit", 0, "list up to this many reports instead of showing the last one")
	cmd.Flags().BoolVar(&summary, "summary", false, "count stored events by status")

	return cmd
}
