package commands

import (
	"fmt"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var noop bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply this node's catalog",
		Long: `Find this node's catalog on the active terminus and apply it.

Resources are applied in dependency order. Resources whose dependencies
failed are skipped. With --noop, resources are only checked.
The report is printed, and stored when cache_store is sqlite.`,
		Example: `  # Apply the cached catalog
  froyo-catalog apply --terminus cache

  # Show what would change
  froyo-catalog apply --noop --render-as json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{noop: noop})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			report, err := a.workflow.Apply(ctx)
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("status", string(report.Status)).
				Int("applied", report.Metrics.Applied).
				Int("failed", report.Metrics.Failed).
				Int("skipped", report.Metrics.Skipped).
				Dur("duration", report.Metrics.Duration).
				Msg("Catalog applied")

			if err := render(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Status == engine.ReportStatusFailed {
				return fmt.Errorf("apply failed: %d failed, %d skipped", report.Metrics.Failed, report.Metrics.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noop, "noop", false, "check resources without changing them")

	return cmd
}
