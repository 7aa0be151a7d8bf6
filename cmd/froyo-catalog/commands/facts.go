package commands

import (
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/spf13/cobra"
)

func newFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts [node]",
		Short: "Show the facts sent with catalog requests",
		Long: `Show the facts of a node.

For the local node the facts are collected from the host and FROYO_FACT_*
environment variables, then written to the facts cache. Other nodes are only
known through the cache.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			node := argOrEmpty(args)
			if node == "" {
				node = a.settings.Certname()
			} else if node != a.settings.Certname() {
				a.factsReg.Switch(indirector.SubjectFacts, a.factsReg.Cache(indirector.SubjectFacts), nil)
			}

			facts, err := a.factsReg.Find(ctx, indirector.SubjectFacts, node, nil)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), facts)
		},
	}

	return cmd
}
