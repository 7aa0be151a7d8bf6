package commands

import (
	"github.com/spf13/cobra"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies [name]",
		Short: "Show the policies compiled catalogs are checked against",
		Long: `Show the builtin policies and those loaded from policy_dir, or a single
policy by name. Policies listed in disabled_policies show as disabled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if len(args) == 1 {
				p, err := a.policies.GetPolicy(args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), p)
			}
			return render(cmd.OutOrStdout(), a.policies.ListPolicies())
		},
	}

	return cmd
}
